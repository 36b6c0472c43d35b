package spammer

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/blockspam/blockspam/codec"
	"github.com/blockspam/blockspam/protocol"
)

// readBufferSize sizes each connection's read buffer generously, since a
// single run can pull in thousands of full blocks.
const readBufferSize = 1 << 22

// worker owns a single peer connection. It performs the handshake, fires its
// share of the request batch in one write and then matches responses until it
// has seen them all. Every matched response is reported on the outcomes
// channel, as is a single terminal error if the exchange fails.
type worker struct {
	id       int
	cfg      *Config
	batch    []byte
	requests uint64
	outcomes chan<- outcome
}

func (w *worker) run() {
	if err := w.exchange(); err != nil {
		w.outcomes <- outcome{err: errors.Wrapf(err, "connection %d", w.id)}
	}
}

func (w *worker) exchange() error {
	conn, err := w.cfg.Dial("tcp", w.cfg.Address, w.cfg.ConnectTimeout)
	if err != nil {
		return errors.Wrapf(ErrConnect, "cannot connect to %s: %s", w.cfg.Address, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(w.cfg.ExchangeTimeout)); err != nil {
		return errors.WithStack(err)
	}

	reader := bufio.NewReaderSize(conn, readBufferSize)
	session, err := protocol.Run(reader, conn, &w.cfg.Protocol, protocol.ProceedImmediately())
	if err != nil {
		return err
	}
	log.Debugf("Connection %d completed its handshake (remote version %d)",
		w.id, session.RemoteVersion())

	if _, err := conn.Write(w.batch); err != nil {
		return errors.Wrap(err, "cannot send request batch")
	}
	log.Debugf("Connection %d sent its batch of %d requests", w.id, w.requests)

	return w.matchResponses(reader, conn)
}

// matchResponses consumes inbound messages until every request has been
// answered. Unsolicited messages are ignored and pings are answered. A peer
// that hangs up early is not an error here; the fan-in side notices the
// shortfall.
func (w *worker) matchResponses(r io.Reader, conn net.Conn) error {
	expected := w.cfg.RequestType.ResponseCommand()
	for matched := uint64(0); matched < w.requests; {
		msg, _, err := codec.ReadMessage(r, w.cfg.Protocol.Net)
		if errors.Is(err, io.EOF) {
			log.Warnf("Connection %d: peer hung up after %d of %d responses",
				w.id, matched, w.requests)
			return nil
		}
		if err != nil {
			return err
		}

		switch cmd := msg.Command(); {
		case cmd == expected:
			matched++
			w.outcomes <- outcome{}

		case cmd == wire.CmdBlock:
			// The peer demoted the request to a plain block, so it
			// does not serve the requested form for this block.
			return errors.Wrapf(ErrCapabilityMismatch,
				"peer answered a %s request with a full block; "+
					"try a block closer to the chain tip", w.cfg.RequestType)

		case cmd == wire.CmdNotFound:
			return errors.Errorf("peer does not have block %s",
				w.cfg.Protocol.TargetBlock)

		case cmd == wire.CmdPing:
			ping := msg.(*wire.MsgPing)
			err := codec.WriteMessage(conn, wire.NewMsgPong(ping.Nonce),
				w.cfg.Protocol.Net)
			if err != nil {
				return errors.Wrap(err, "cannot send pong message")
			}

		default:
			log.Debugf("Connection %d: ignoring %s message", w.id, cmd)
		}
	}
	return nil
}
