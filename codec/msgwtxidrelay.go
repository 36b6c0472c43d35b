package codec

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// CmdWtxidRelay is the protocol command string for the BIP-339 wtxidrelay
// message.
const CmdWtxidRelay = "wtxidrelay"

// MsgWtxidRelay implements the wire.Message interface and represents the
// BIP-339 wtxidrelay message. It is sent between the version and verack
// messages to signal that transactions should be announced by their witness
// transaction id. It carries no payload.
type MsgWtxidRelay struct{}

// BtcDecode decodes r using the bitcoin protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgWtxidRelay) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	return nil
}

// BtcEncode encodes the receiver to w using the bitcoin protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgWtxidRelay) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	return nil
}

// Command returns the protocol command string for the message. This is part
// of the wire.Message interface implementation.
func (msg *MsgWtxidRelay) Command() string {
	return CmdWtxidRelay
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver. This is part of the wire.Message interface implementation.
func (msg *MsgWtxidRelay) MaxPayloadLength(pver uint32) uint32 {
	return 0
}

// NewMsgWtxidRelay returns a new wtxidrelay message that conforms to the
// wire.Message interface.
func NewMsgWtxidRelay() *MsgWtxidRelay {
	return &MsgWtxidRelay{}
}
