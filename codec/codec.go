package codec

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// ErrFraming is returned when an inbound frame is truncated, oversized,
// carries the wrong network magic, fails its payload checksum, or its
// payload cannot be decoded.
var ErrFraming = errors.New("malformed message frame")

const (
	// headerSize is the size of a frame header: 4 bytes of network magic,
	// 12 bytes of command name, 4 bytes of payload length and 4 bytes of
	// payload checksum.
	headerSize = 24

	// commandSize is the size of the fixed, zero-padded command name field
	// in a frame header.
	commandSize = 12
)

// InvTypeCompactBlock is the inventory type of a BIP-152 compact block
// (MSG_CMPCT_BLOCK). It is absent from the inventory types btcd defines.
const InvTypeCompactBlock wire.InvType = 4

// ReadMessage reads, validates and decodes exactly one frame from r. Frames
// whose command is not recognized are returned as *MsgUnknown rather than
// failing, so callers can still branch on the raw command name. A connection
// closed cleanly at a frame boundary surfaces as io.EOF.
func ReadMessage(r io.Reader, btcnet wire.BitcoinNet) (wire.Message, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, errors.Wrap(ErrFraming, "truncated message header")
		}
		return nil, nil, errors.Wrap(err, "cannot read message header")
	}

	magic := wire.BitcoinNet(binary.LittleEndian.Uint32(hdr[0:4]))
	if magic != btcnet {
		return nil, nil, errors.Wrapf(ErrFraming,
			"message magic 0x%08x does not match network magic 0x%08x",
			uint32(magic), uint32(btcnet))
	}

	command := string(bytes.TrimRight(hdr[4:4+commandSize], "\x00"))
	length := binary.LittleEndian.Uint32(hdr[16:20])
	if length > wire.MaxMessagePayload {
		return nil, nil, errors.Wrapf(ErrFraming,
			"%s payload of %d bytes exceeds the maximum of %d bytes",
			command, length, uint32(wire.MaxMessagePayload))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, errors.Wrapf(ErrFraming,
			"truncated payload for %s command: %s", command, err)
	}

	checksum := chainhash.DoubleHashB(payload)[0:4]
	if !bytes.Equal(checksum, hdr[20:24]) {
		return nil, nil, errors.Wrapf(ErrFraming,
			"payload checksum mismatch for %s command", command)
	}

	msg := makeEmptyMessage(command)
	err := msg.BtcDecode(bytes.NewBuffer(payload), wire.ProtocolVersion, wire.WitnessEncoding)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrFraming,
			"cannot decode %s payload: %s", command, err)
	}

	return msg, payload, nil
}

// WriteMessage encodes msg, frames it with the magic of btcnet and writes it
// to w.
func WriteMessage(w io.Writer, msg wire.Message, btcnet wire.BitcoinNet) error {
	_, err := wire.WriteMessageWithEncodingN(w, msg, wire.ProtocolVersion,
		btcnet, wire.WitnessEncoding)
	return errors.WithStack(err)
}

// EncodeMessage returns the full frame bytes of msg, header included, as they
// would appear on the wire.
func EncodeMessage(msg wire.Message, btcnet wire.BitcoinNet) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg, btcnet); err != nil {
		return nil, errors.Wrapf(err, "cannot encode %s message", msg.Command())
	}
	return buf.Bytes(), nil
}

// makeEmptyMessage creates a zero-valued message of the appropriate concrete
// type for the given command. Commands this client has no business decoding
// fall through to MsgUnknown, which keeps the raw payload.
func makeEmptyMessage(command string) wire.Message {
	switch command {
	case wire.CmdVersion:
		return &wire.MsgVersion{}
	case wire.CmdVerAck:
		return &wire.MsgVerAck{}
	case wire.CmdPing:
		return &wire.MsgPing{}
	case wire.CmdPong:
		return &wire.MsgPong{}
	case wire.CmdBlock:
		return &wire.MsgBlock{}
	case wire.CmdTx:
		return &wire.MsgTx{}
	case wire.CmdInv:
		return &wire.MsgInv{}
	case wire.CmdGetData:
		return &wire.MsgGetData{}
	case wire.CmdNotFound:
		return &wire.MsgNotFound{}
	case wire.CmdHeaders:
		return &wire.MsgHeaders{}
	case wire.CmdAddr:
		return &wire.MsgAddr{}
	case wire.CmdSendAddrV2:
		return &wire.MsgSendAddrV2{}
	case wire.CmdSendHeaders:
		return &wire.MsgSendHeaders{}
	case wire.CmdFeeFilter:
		return &wire.MsgFeeFilter{}
	case CmdWtxidRelay:
		return &MsgWtxidRelay{}
	case CmdGetBlockTxn:
		return &MsgGetBlockTxn{}
	default:
		return &MsgUnknown{Cmd: command}
	}
}
