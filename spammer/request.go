package spammer

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/blockspam/blockspam/codec"
)

// RequestType selects the block request message the spammer floods its peer
// with, and with it the response message it expects back.
type RequestType string

// The supported request types.
const (
	// RequestWitnessBlock requests the block with witness data via getdata.
	RequestWitnessBlock RequestType = "witness-block"

	// RequestLegacyBlock requests the block without witness data via
	// getdata.
	RequestLegacyBlock RequestType = "legacy-block"

	// RequestCompactBlock requests the BIP-152 compact form of the block
	// via getdata. Peers only serve it for blocks near their tip.
	RequestCompactBlock RequestType = "compact-block"

	// RequestBlockTransactions requests the block's coinbase transaction
	// via a BIP-152 getblocktxn message. Peers only answer it for blocks
	// near their tip.
	RequestBlockTransactions RequestType = "block-transactions"
)

// Message builds the request message for the given block hash.
func (rt RequestType) Message(blockHash *chainhash.Hash) (wire.Message, error) {
	switch rt {
	case RequestWitnessBlock:
		return getDataMsg(wire.InvTypeWitnessBlock, blockHash)
	case RequestLegacyBlock:
		return getDataMsg(wire.InvTypeBlock, blockHash)
	case RequestCompactBlock:
		return getDataMsg(codec.InvTypeCompactBlock, blockHash)
	case RequestBlockTransactions:
		return codec.NewMsgGetBlockTxn(blockHash, []uint32{0}), nil
	}
	return nil, errors.Errorf("unknown request type %q", rt)
}

// ResponseCommand returns the command of the message a peer is expected to
// answer this request type with.
func (rt RequestType) ResponseCommand() string {
	switch rt {
	case RequestCompactBlock:
		return codec.CmdCompactBlock
	case RequestBlockTransactions:
		return codec.CmdBlockTxn
	}
	return wire.CmdBlock
}

func getDataMsg(invType wire.InvType, blockHash *chainhash.Hash) (wire.Message, error) {
	msg := wire.NewMsgGetData()
	if err := msg.AddInvVect(wire.NewInvVect(invType, blockHash)); err != nil {
		return nil, errors.WithStack(err)
	}
	return msg, nil
}
