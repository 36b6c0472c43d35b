package codec

import (
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// MsgUnknown implements the wire.Message interface and represents a frame
// whose command this client does not decode. The raw command name and payload
// are preserved so callers can still branch on the command generically.
type MsgUnknown struct {
	Cmd     string
	Payload []byte
}

// BtcDecode decodes r using the bitcoin protocol encoding into the receiver.
// This is part of the wire.Message interface implementation.
func (msg *MsgUnknown) BtcDecode(r io.Reader, pver uint32, enc wire.MessageEncoding) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s payload", msg.Cmd)
	}
	msg.Payload = payload
	return nil
}

// BtcEncode encodes the receiver to w using the bitcoin protocol encoding.
// This is part of the wire.Message interface implementation.
func (msg *MsgUnknown) BtcEncode(w io.Writer, pver uint32, enc wire.MessageEncoding) error {
	_, err := w.Write(msg.Payload)
	return err
}

// Command returns the protocol command string for the message. This is part
// of the wire.Message interface implementation.
func (msg *MsgUnknown) Command() string {
	return msg.Cmd
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver. This is part of the wire.Message interface implementation.
func (msg *MsgUnknown) MaxPayloadLength(pver uint32) uint32 {
	return wire.MaxMessagePayload
}
