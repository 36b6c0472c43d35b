package protocol

import (
	"io"
	"net"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/blockspam/blockspam/codec"
	"github.com/blockspam/blockspam/util/random"
)

// ErrProtocolViolation is returned when the remote peer sends a message out
// of order for the current session state, fails one of the policy checks on
// its version message, or delivers a block that does not match the requested
// hash. Sessions are never recovered from it.
var ErrProtocolViolation = errors.New("protocol violation")

const (
	// wtxidRelayVersion is the protocol version that introduced the
	// BIP-339 wtxidrelay and BIP-155 sendaddrv2 negotiation messages.
	wtxidRelayVersion = 70016

	// DefaultUserAgent is the user agent advertised in the version message
	// when none is configured.
	DefaultUserAgent = "/Satoshi:23.0.0/"

	// DefaultBlockHeight is the chain height advertised in the version
	// message when none is configured.
	DefaultBlockHeight = 749000
)

// State is a session's position in the handshake and block exchange. States
// only ever advance forward.
type State int

// The session states, in the order a session moves through them.
const (
	StateConnected State = iota
	StateAwaitingVersion
	StateAwaitingVerack
	StateAwaitingBlock
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateAwaitingVersion:
		return "AwaitingVersion"
	case StateAwaitingVerack:
		return "AwaitingVerack"
	case StateAwaitingBlock:
		return "AwaitingBlock"
	case StateDone:
		return "Done"
	}
	return "Unknown"
}

// Config holds the parameters of a session. The zero value of every field is
// replaced with a sensible default by NewSession, so callers only set what
// they care about.
type Config struct {
	// Net is the network whose magic tags every frame.
	Net wire.BitcoinNet

	// TargetBlock is the hash of the block the session is after.
	TargetBlock chainhash.Hash

	// UserAgent and BlockHeight are advertised in the version message.
	UserAgent   string
	BlockHeight int32

	// Services are the local service bits advertised in the version
	// message.
	Services wire.ServiceFlag

	// Nonce supplies the random nonce of the version message and Now
	// supplies its timestamp. Tests inject deterministic values here.
	Nonce func() (uint64, error)
	Now   func() time.Time
}

// Continuation decides what a session does once the remote verack lands: the
// block fetch flow requests and awaits the target block, while the spam flow
// considers the session complete and hands the connection to its dispatcher.
// It returns the state the session moves to.
type Continuation func(s *Session) (State, error)

// AwaitBlock returns a continuation that requests the session's target block
// and leaves the session awaiting it.
func AwaitBlock() Continuation {
	return func(s *Session) (State, error) {
		if err := s.sendGetBlockData(); err != nil {
			return 0, err
		}
		return StateAwaitingBlock, nil
	}
}

// ProceedImmediately returns a continuation that completes the session as
// soon as the remote verack arrives.
func ProceedImmediately() Continuation {
	return func(s *Session) (State, error) {
		return StateDone, nil
	}
}

// Session tracks the negotiation progress of a single peer connection. Each
// session is exclusively owned by the goroutine driving its connection; no
// synchronization is provided or needed.
type Session struct {
	w             io.Writer
	cfg           Config
	afterVerack   Continuation
	state         State
	remoteVersion uint32
}

// NewSession returns a session in the Connected state that writes its
// outbound messages to w.
func NewSession(w io.Writer, cfg *Config, afterVerack Continuation) *Session {
	sessionCfg := *cfg // Copy so caller can't mutate.
	if sessionCfg.UserAgent == "" {
		sessionCfg.UserAgent = DefaultUserAgent
	}
	if sessionCfg.BlockHeight == 0 {
		sessionCfg.BlockHeight = DefaultBlockHeight
	}
	if sessionCfg.Services == 0 {
		sessionCfg.Services = wire.SFNodeWitness
	}
	if sessionCfg.Nonce == nil {
		sessionCfg.Nonce = random.Uint64
	}
	if sessionCfg.Now == nil {
		sessionCfg.Now = time.Now
	}
	return &Session{
		w:           w,
		cfg:         sessionCfg,
		afterVerack: afterVerack,
		state:       StateConnected,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// RemoteVersion returns the protocol version the remote peer announced, or 0
// if its version message has not arrived yet.
func (s *Session) RemoteVersion() uint32 {
	return s.remoteVersion
}

// Start sends the local version message and begins awaiting the remote one.
func (s *Session) Start() error {
	if s.state != StateConnected {
		return errors.Wrapf(ErrProtocolViolation,
			"session already started (state %s)", s.state)
	}

	versionMsg, err := s.localVersionMsg()
	if err != nil {
		return err
	}
	if err := codec.WriteMessage(s.w, versionMsg, s.cfg.Net); err != nil {
		return errors.Wrap(err, "cannot send version message")
	}
	log.Tracef("Sent version message")

	s.state = StateAwaitingVersion
	return nil
}

// Handle processes one inbound message and advances the session state.
// Messages arriving before their logical precondition is satisfied abort the
// session with ErrProtocolViolation; a compliant peer never violates the
// ordering and a non-compliant one is not worth talking to further.
func (s *Session) Handle(msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		if s.state != StateAwaitingVersion {
			return s.outOfOrder(msg)
		}
		if err := s.handleVersion(m); err != nil {
			return err
		}
		s.state = StateAwaitingVerack

	case *wire.MsgVerAck:
		if s.state != StateAwaitingVerack {
			return s.outOfOrder(msg)
		}
		log.Tracef("Received verack message")
		nextState, err := s.afterVerack(s)
		if err != nil {
			return err
		}
		s.state = nextState

	case *codec.MsgWtxidRelay:
		if s.state != StateAwaitingVerack {
			return s.outOfOrder(msg)
		}
		log.Tracef("Received wtxidrelay message")

	case *wire.MsgSendAddrV2:
		if s.state != StateAwaitingVerack {
			return s.outOfOrder(msg)
		}
		log.Tracef("Received sendaddrv2 message")

	case *wire.MsgBlock:
		if s.state != StateAwaitingBlock {
			return s.outOfOrder(msg)
		}
		if err := s.handleBlock(m); err != nil {
			return err
		}
		s.state = StateDone

	case *wire.MsgPing:
		return s.handlePing(m)

	default:
		if s.state != StateAwaitingBlock && s.state != StateDone {
			return s.outOfOrder(msg)
		}
		log.Debugf("Ignoring %s message in state %s", msg.Command(), s.state)
	}
	return nil
}

func (s *Session) outOfOrder(msg wire.Message) error {
	return errors.Wrapf(ErrProtocolViolation,
		"%s message out of order for state %s", msg.Command(), s.state)
}

// localVersionMsg creates the version message announcing this client to the
// remote peer. The advertised addresses are deliberately empty.
func (s *Session) localVersionMsg() (*wire.MsgVersion, error) {
	nonce, err := s.cfg.Nonce()
	if err != nil {
		return nil, errors.Wrap(err, "cannot generate version nonce")
	}

	emptyAddr := wire.NewNetAddressIPPort(net.IPv4zero, 0, s.cfg.Services)
	return &wire.MsgVersion{
		ProtocolVersion: int32(wire.ProtocolVersion),
		Services:        s.cfg.Services,
		Timestamp:       time.Unix(s.cfg.Now().Unix(), 0),
		AddrYou:         *emptyAddr,
		AddrMe:          *emptyAddr,
		Nonce:           nonce,
		UserAgent:       s.cfg.UserAgent,
		LastBlock:       s.cfg.BlockHeight,
	}, nil
}

// handleVersion enforces the peer policy checks and completes our half of
// the handshake. Peers that do not relay transactions or lack segwit support
// are unusable for requesting witness data, so the session aborts before any
// verack is sent.
func (s *Session) handleVersion(msg *wire.MsgVersion) error {
	log.Tracef("Received version message (version %d, agent %s)",
		msg.ProtocolVersion, msg.UserAgent)

	if msg.DisableRelayTx {
		return errors.Wrap(ErrProtocolViolation,
			"peer does not relay transactions")
	}
	if !msg.HasService(wire.SFNodeWitness) {
		return errors.Wrap(ErrProtocolViolation,
			"peer does not support segwit")
	}
	s.remoteVersion = uint32(msg.ProtocolVersion)

	if s.remoteVersion >= wtxidRelayVersion {
		if err := codec.WriteMessage(s.w, codec.NewMsgWtxidRelay(), s.cfg.Net); err != nil {
			return errors.Wrap(err, "cannot send wtxidrelay message")
		}
		log.Tracef("Sent wtxidrelay message")
		if err := codec.WriteMessage(s.w, &wire.MsgSendAddrV2{}, s.cfg.Net); err != nil {
			return errors.Wrap(err, "cannot send sendaddrv2 message")
		}
		log.Tracef("Sent sendaddrv2 message")
	}

	if err := codec.WriteMessage(s.w, wire.NewMsgVerAck(), s.cfg.Net); err != nil {
		return errors.Wrap(err, "cannot send verack message")
	}
	log.Tracef("Sent verack message")
	return nil
}

// handleBlock verifies that the received block is the one the session asked
// for.
func (s *Session) handleBlock(msg *wire.MsgBlock) error {
	blockHash := msg.BlockHash()
	if !blockHash.IsEqual(&s.cfg.TargetBlock) {
		return errors.Wrapf(ErrProtocolViolation,
			"received block %s does not match requested block %s",
			blockHash, s.cfg.TargetBlock)
	}
	log.Debugf("Received target block %s", blockHash)
	return nil
}

// handlePing answers a ping with a matching pong. Pings are valid in every
// state and never advance the session.
func (s *Session) handlePing(msg *wire.MsgPing) error {
	log.Tracef("Received ping message")
	if err := codec.WriteMessage(s.w, wire.NewMsgPong(msg.Nonce), s.cfg.Net); err != nil {
		return errors.Wrap(err, "cannot send pong message")
	}
	log.Tracef("Sent pong message")
	return nil
}

// sendGetBlockData requests the session's target block.
func (s *Session) sendGetBlockData() error {
	getData := wire.NewMsgGetData()
	inv := wire.NewInvVect(wire.InvTypeBlock, &s.cfg.TargetBlock)
	if err := getData.AddInvVect(inv); err != nil {
		return errors.WithStack(err)
	}
	if err := codec.WriteMessage(s.w, getData, s.cfg.Net); err != nil {
		return errors.Wrap(err, "cannot send getdata message")
	}
	log.Tracef("Sent getdata message for block %s", s.cfg.TargetBlock)
	return nil
}

// Run drives a fresh session over the given reader and writer until it
// completes, decoding one frame at a time. It returns the completed session
// so callers can inspect what the peer announced.
func Run(r io.Reader, w io.Writer, cfg *Config, afterVerack Continuation) (*Session, error) {
	s := NewSession(w, cfg, afterVerack)
	if err := s.Start(); err != nil {
		return nil, err
	}
	for s.state != StateDone {
		msg, _, err := codec.ReadMessage(r, s.cfg.Net)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read message in state %s", s.state)
		}
		if err := s.Handle(msg); err != nil {
			return nil, err
		}
	}
	return s, nil
}
