package codec

import (
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

const (
	// CmdGetBlockTxn is the protocol command string for the BIP-152
	// getblocktxn message.
	CmdGetBlockTxn = "getblocktxn"

	// CmdBlockTxn is the protocol command string of the blocktxn message a
	// peer answers getblocktxn with.
	CmdBlockTxn = "blocktxn"

	// CmdCompactBlock is the protocol command string of the cmpctblock
	// message a peer answers a compact block inventory request with.
	CmdCompactBlock = "cmpctblock"

	// maxBlockTxnIndexes is a sanity bound on the number of requested
	// transaction indexes, well above the number of transactions that fit
	// in a block.
	maxBlockTxnIndexes = 1 << 17
)

// MsgGetBlockTxn implements the wire.Message interface and represents a
// BIP-152 getblocktxn message. It requests a subset of the transactions of a
// recent block, identified by their indexes within the block.
type MsgGetBlockTxn struct {
	BlockHash chainhash.Hash

	// Indexes holds the absolute transaction indexes in ascending order.
	// On the wire they are differentially encoded.
	Indexes []uint32
}

// BtcDecode decodes r using the bitcoin protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgGetBlockTxn) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	if _, err := io.ReadFull(r, msg.BlockHash[:]); err != nil {
		return errors.Wrap(err, "cannot read block hash")
	}

	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return errors.Wrap(err, "cannot read index count")
	}
	if count > maxBlockTxnIndexes {
		return errors.Errorf("too many requested transaction indexes: %d", count)
	}

	msg.Indexes = make([]uint32, 0, count)
	prev := uint32(0)
	for i := uint64(0); i < count; i++ {
		diff, err := wire.ReadVarInt(r, pver)
		if err != nil {
			return errors.Wrapf(err, "cannot read index %d", i)
		}
		index := uint32(diff)
		if i > 0 {
			index = prev + uint32(diff) + 1
		}
		msg.Indexes = append(msg.Indexes, index)
		prev = index
	}
	return nil
}

// BtcEncode encodes the receiver to w using the bitcoin protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgGetBlockTxn) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	if _, err := w.Write(msg.BlockHash[:]); err != nil {
		return errors.Wrap(err, "cannot write block hash")
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(msg.Indexes))); err != nil {
		return errors.Wrap(err, "cannot write index count")
	}

	prev := uint32(0)
	for i, index := range msg.Indexes {
		diff := index
		if i > 0 {
			if index <= prev {
				return errors.Errorf("transaction indexes must be "+
					"ascending, got %d after %d", index, prev)
			}
			diff = index - prev - 1
		}
		if err := wire.WriteVarInt(w, pver, uint64(diff)); err != nil {
			return errors.Wrapf(err, "cannot write index %d", i)
		}
		prev = index
	}
	return nil
}

// Command returns the protocol command string for the message. This is part
// of the wire.Message interface implementation.
func (msg *MsgGetBlockTxn) Command() string {
	return CmdGetBlockTxn
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver. This is part of the wire.Message interface implementation.
func (msg *MsgGetBlockTxn) MaxPayloadLength(pver uint32) uint32 {
	return chainhash.HashSize + wire.MaxVarIntPayload +
		maxBlockTxnIndexes*wire.MaxVarIntPayload
}

// NewMsgGetBlockTxn returns a new getblocktxn message requesting the given
// transaction indexes of the block with the given hash.
func NewMsgGetBlockTxn(blockHash *chainhash.Hash, indexes []uint32) *MsgGetBlockTxn {
	return &MsgGetBlockTxn{
		BlockHash: *blockHash,
		Indexes:   indexes,
	}
}
