package codec

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
)

// TestGetBlockTxn tests the MsgGetBlockTxn API.
func TestGetBlockTxn(t *testing.T) {
	pver := wire.ProtocolVersion

	hash, err := chainhash.NewHashFromStr(
		"0000000000000000000592a974b1b9f087cb77628bb4a097d5c2c11b3476a58e")
	if err != nil {
		t.Fatalf("NewHashFromStr: %v", err)
	}

	// Ensure the command is expected value.
	wantCmd := "getblocktxn"
	msg := NewMsgGetBlockTxn(hash, []uint32{0})
	if cmd := msg.Command(); cmd != wantCmd {
		t.Errorf("NewMsgGetBlockTxn: wrong command - got %v want %v",
			cmd, wantCmd)
	}

	// Ensure max payload can hold the largest conceivable request.
	wantMinPayload := uint32(chainhash.HashSize + wire.MaxVarIntPayload)
	if maxPayload := msg.MaxPayloadLength(pver); maxPayload < wantMinPayload {
		t.Errorf("MaxPayloadLength: %d is too small to hold any request", maxPayload)
	}
}

// TestGetBlockTxnWire tests the MsgGetBlockTxn wire encode and decode,
// including the differential index encoding.
func TestGetBlockTxnWire(t *testing.T) {
	pver := wire.ProtocolVersion

	hash, err := chainhash.NewHashFromStr(
		"0000000000000000000592a974b1b9f087cb77628bb4a097d5c2c11b3476a58e")
	if err != nil {
		t.Fatalf("NewHashFromStr: %v", err)
	}

	tests := []struct {
		in  *MsgGetBlockTxn // Message to encode
		buf []byte          // Expected encoding of the index portion
	}{
		// Single index.
		{
			NewMsgGetBlockTxn(hash, []uint32{0}),
			[]byte{0x01, 0x00},
		},
		// Consecutive indexes encode as zero differences.
		{
			NewMsgGetBlockTxn(hash, []uint32{0, 1, 2}),
			[]byte{0x03, 0x00, 0x00, 0x00},
		},
		// Gaps encode as difference minus one.
		{
			NewMsgGetBlockTxn(hash, []uint32{0, 5, 10}),
			[]byte{0x03, 0x00, 0x04, 0x04},
		},
	}

	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		// Encode the message to wire format.
		var buf bytes.Buffer
		err := test.in.BtcEncode(&buf, pver, wire.WitnessEncoding)
		if err != nil {
			t.Errorf("BtcEncode #%d error %v", i, err)
			continue
		}
		want := append(hash[:], test.buf...)
		if !bytes.Equal(buf.Bytes(), want) {
			t.Errorf("BtcEncode #%d\n got: %s want: %s", i,
				spew.Sdump(buf.Bytes()), spew.Sdump(want))
			continue
		}

		// Decode the message from wire format.
		var msg MsgGetBlockTxn
		err = msg.BtcDecode(bytes.NewReader(buf.Bytes()), pver, wire.WitnessEncoding)
		if err != nil {
			t.Errorf("BtcDecode #%d error %v", i, err)
			continue
		}
		if !reflect.DeepEqual(&msg, test.in) {
			t.Errorf("BtcDecode #%d\n got: %s want: %s", i,
				spew.Sdump(&msg), spew.Sdump(test.in))
			continue
		}
	}
}

// TestGetBlockTxnWireErrors ensures descending indexes are rejected on
// encode.
func TestGetBlockTxnWireErrors(t *testing.T) {
	hash := chainhash.Hash{}
	msg := NewMsgGetBlockTxn(&hash, []uint32{5, 3})
	var buf bytes.Buffer
	if err := msg.BtcEncode(&buf, wire.ProtocolVersion, wire.WitnessEncoding); err == nil {
		t.Errorf("BtcEncode: expected error on descending indexes")
	}
}
