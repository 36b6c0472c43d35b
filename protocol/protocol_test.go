package protocol

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/blockspam/blockspam/codec"
)

func testConfig() *Config {
	return &Config{
		Net:         wire.MainNet,
		TargetBlock: *chaincfg.MainNetParams.GenesisHash,
		Nonce:       func() (uint64, error) { return 42, nil },
		Now:         func() time.Time { return time.Unix(1660000000, 0) },
	}
}

// remoteVersionMsg builds the version message a well-behaved remote peer
// would send.
func remoteVersionMsg(pver int32, services wire.ServiceFlag, disableRelay bool) *wire.MsgVersion {
	addr := wire.NewNetAddressIPPort(net.IPv4zero, 0, services)
	return &wire.MsgVersion{
		ProtocolVersion: pver,
		Services:        services,
		Timestamp:       time.Unix(1660000001, 0),
		AddrYou:         *addr,
		AddrMe:          *addr,
		Nonce:           7,
		UserAgent:       "/peer:0.1.0/",
		LastBlock:       100,
		DisableRelayTx:  disableRelay,
	}
}

func compliantVersionMsg() *wire.MsgVersion {
	return remoteVersionMsg(70016, wire.SFNodeNetwork|wire.SFNodeWitness, false)
}

// readSentCommands decodes every frame the session wrote and returns the
// command names in order.
func readSentCommands(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var commands []string
	for buf.Len() > 0 {
		msg, _, err := codec.ReadMessage(buf, wire.MainNet)
		if err != nil {
			t.Fatalf("cannot decode sent message: %v", err)
		}
		commands = append(commands, msg.Command())
	}
	return commands
}

func equalCommands(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// TestStateTransitions checks every (state, message) pair against the
// expected transition, including the pairs that must abort the session.
func TestStateTransitions(t *testing.T) {
	mismatchedBlock := chaincfg.TestNet3Params.GenesisBlock

	tests := []struct {
		name          string
		state         State
		afterVerack   Continuation
		msg           wire.Message
		wantState     State
		wantViolation bool
	}{
		{
			name:      "version while awaiting version",
			state:     StateAwaitingVersion,
			msg:       compliantVersionMsg(),
			wantState: StateAwaitingVerack,
		},
		{
			name:        "verack while awaiting verack, block continuation",
			state:       StateAwaitingVerack,
			afterVerack: AwaitBlock(),
			msg:         wire.NewMsgVerAck(),
			wantState:   StateAwaitingBlock,
		},
		{
			name:        "verack while awaiting verack, immediate continuation",
			state:       StateAwaitingVerack,
			afterVerack: ProceedImmediately(),
			msg:         wire.NewMsgVerAck(),
			wantState:   StateDone,
		},
		{
			name:      "wtxidrelay while awaiting verack",
			state:     StateAwaitingVerack,
			msg:       codec.NewMsgWtxidRelay(),
			wantState: StateAwaitingVerack,
		},
		{
			name:      "sendaddrv2 while awaiting verack",
			state:     StateAwaitingVerack,
			msg:       &wire.MsgSendAddrV2{},
			wantState: StateAwaitingVerack,
		},
		{
			name:      "target block while awaiting block",
			state:     StateAwaitingBlock,
			msg:       chaincfg.MainNetParams.GenesisBlock,
			wantState: StateDone,
		},
		{
			name:      "ping while awaiting version",
			state:     StateAwaitingVersion,
			msg:       wire.NewMsgPing(9),
			wantState: StateAwaitingVersion,
		},
		{
			name:      "ping while awaiting block",
			state:     StateAwaitingBlock,
			msg:       wire.NewMsgPing(9),
			wantState: StateAwaitingBlock,
		},
		{
			name:      "unknown command while awaiting block",
			state:     StateAwaitingBlock,
			msg:       &codec.MsgUnknown{Cmd: "vendormsg"},
			wantState: StateAwaitingBlock,
		},
		{
			name:      "unknown command when done",
			state:     StateDone,
			msg:       &codec.MsgUnknown{Cmd: "vendormsg"},
			wantState: StateDone,
		},
		{
			name:      "unhandled known command while awaiting block",
			state:     StateAwaitingBlock,
			msg:       &wire.MsgSendHeaders{},
			wantState: StateAwaitingBlock,
		},
		{
			name:          "version before start",
			state:         StateConnected,
			msg:           compliantVersionMsg(),
			wantViolation: true,
		},
		{
			name:          "verack before version",
			state:         StateAwaitingVersion,
			msg:           wire.NewMsgVerAck(),
			wantViolation: true,
		},
		{
			name:          "duplicate version",
			state:         StateAwaitingVerack,
			msg:           compliantVersionMsg(),
			wantViolation: true,
		},
		{
			name:          "verack while awaiting block",
			state:         StateAwaitingBlock,
			msg:           wire.NewMsgVerAck(),
			wantViolation: true,
		},
		{
			name:          "wtxidrelay before version",
			state:         StateAwaitingVersion,
			msg:           codec.NewMsgWtxidRelay(),
			wantViolation: true,
		},
		{
			name:          "block before verack",
			state:         StateAwaitingVerack,
			msg:           chaincfg.MainNetParams.GenesisBlock,
			wantViolation: true,
		},
		{
			name:          "unknown command before verack",
			state:         StateAwaitingVerack,
			msg:           &codec.MsgUnknown{Cmd: "vendormsg"},
			wantViolation: true,
		},
		{
			name:          "unhandled known command while awaiting version",
			state:         StateAwaitingVersion,
			msg:           &wire.MsgSendHeaders{},
			wantViolation: true,
		},
		{
			name:          "mismatched block while awaiting block",
			state:         StateAwaitingBlock,
			msg:           mismatchedBlock,
			wantViolation: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			afterVerack := test.afterVerack
			if afterVerack == nil {
				afterVerack = AwaitBlock()
			}
			var buf bytes.Buffer
			s := NewSession(&buf, testConfig(), afterVerack)
			s.state = test.state

			err := s.Handle(test.msg)
			if test.wantViolation {
				if !errors.Is(err, ErrProtocolViolation) {
					t.Fatalf("Handle: got %v, want ErrProtocolViolation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if s.State() != test.wantState {
				t.Fatalf("Handle: got state %s, want %s", s.State(), test.wantState)
			}
		})
	}
}

// TestLocalVersionMessage checks the deterministic contents of the version
// message the session announces itself with.
func TestLocalVersionMessage(t *testing.T) {
	var buf bytes.Buffer
	s := NewSession(&buf, testConfig(), AwaitBlock())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateAwaitingVersion {
		t.Fatalf("Start: got state %s, want %s", s.State(), StateAwaitingVersion)
	}

	msg, _, err := codec.ReadMessage(&buf, wire.MainNet)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	versionMsg, ok := msg.(*wire.MsgVersion)
	if !ok {
		t.Fatalf("Start sent a %s message, want version", msg.Command())
	}

	if versionMsg.Nonce != 42 {
		t.Errorf("wrong nonce - got %d, want 42", versionMsg.Nonce)
	}
	if versionMsg.Timestamp.Unix() != 1660000000 {
		t.Errorf("wrong timestamp - got %d, want 1660000000", versionMsg.Timestamp.Unix())
	}
	if versionMsg.UserAgent != DefaultUserAgent {
		t.Errorf("wrong user agent - got %q, want %q", versionMsg.UserAgent, DefaultUserAgent)
	}
	if versionMsg.LastBlock != DefaultBlockHeight {
		t.Errorf("wrong block height - got %d, want %d", versionMsg.LastBlock, DefaultBlockHeight)
	}
	if !versionMsg.HasService(wire.SFNodeWitness) {
		t.Errorf("version message does not advertise witness support")
	}
	if versionMsg.DisableRelayTx {
		t.Errorf("version message must not disable tx relay")
	}
}

// TestVersionPolicyChecks ensures peers failing the relay or witness policy
// abort the handshake before any verack is sent.
func TestVersionPolicyChecks(t *testing.T) {
	tests := []struct {
		name string
		msg  *wire.MsgVersion
	}{
		{
			name: "peer does not relay",
			msg:  remoteVersionMsg(70016, wire.SFNodeNetwork|wire.SFNodeWitness, true),
		},
		{
			name: "peer lacks witness support",
			msg:  remoteVersionMsg(70016, wire.SFNodeNetwork, false),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := NewSession(&buf, testConfig(), AwaitBlock())
			if err := s.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			buf.Reset()

			err := s.Handle(test.msg)
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("Handle: got %v, want ErrProtocolViolation", err)
			}
			if buf.Len() != 0 {
				t.Fatalf("session sent %v after rejecting the peer, want nothing",
					readSentCommands(t, &buf))
			}
		})
	}
}

// TestExtensionNegotiation ensures the BIP-339/155 notices are sent exactly
// when the remote protocol version supports them, and always before the
// verack.
func TestExtensionNegotiation(t *testing.T) {
	tests := []struct {
		name         string
		remoteVer    int32
		wantCommands []string
	}{
		{
			name:         "modern peer",
			remoteVer:    70016,
			wantCommands: []string{codec.CmdWtxidRelay, wire.CmdSendAddrV2, wire.CmdVerAck},
		},
		{
			name:         "older peer",
			remoteVer:    70015,
			wantCommands: []string{wire.CmdVerAck},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := NewSession(&buf, testConfig(), AwaitBlock())
			if err := s.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}
			buf.Reset()

			msg := remoteVersionMsg(test.remoteVer,
				wire.SFNodeNetwork|wire.SFNodeWitness, false)
			if err := s.Handle(msg); err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if s.RemoteVersion() != uint32(test.remoteVer) {
				t.Errorf("RemoteVersion: got %d, want %d",
					s.RemoteVersion(), test.remoteVer)
			}

			got := readSentCommands(t, &buf)
			if !equalCommands(got, test.wantCommands) {
				t.Fatalf("sent %v, want %v", got, test.wantCommands)
			}
		})
	}
}

// TestVerackBeforeVersionSendsNothing ensures the out-of-order abort happens
// before any getdata could be sent.
func TestVerackBeforeVersionSendsNothing(t *testing.T) {
	var buf bytes.Buffer
	s := NewSession(&buf, testConfig(), AwaitBlock())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	buf.Reset()

	err := s.Handle(wire.NewMsgVerAck())
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Handle: got %v, want ErrProtocolViolation", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("session sent %v after the violation, want nothing",
			readSentCommands(t, &buf))
	}
}

// TestPingPong ensures pings are answered with a matching pong without
// advancing the session.
func TestPingPong(t *testing.T) {
	var buf bytes.Buffer
	s := NewSession(&buf, testConfig(), AwaitBlock())
	s.state = StateAwaitingVerack

	if err := s.Handle(wire.NewMsgPing(0xfeed)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if s.State() != StateAwaitingVerack {
		t.Fatalf("ping advanced the state to %s", s.State())
	}

	msg, _, err := codec.ReadMessage(&buf, wire.MainNet)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	pong, ok := msg.(*wire.MsgPong)
	if !ok {
		t.Fatalf("session answered ping with %s, want pong", msg.Command())
	}
	if pong.Nonce != 0xfeed {
		t.Fatalf("wrong pong nonce - got %x, want feed", pong.Nonce)
	}
}

// TestRunBroadcastFlow drives a complete handshake and block fetch against a
// compliant in-memory peer.
func TestRunBroadcastFlow(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	deadline := time.Now().Add(5 * time.Second)
	clientConn.SetDeadline(deadline)
	peerConn.SetDeadline(deadline)

	peerErr := make(chan error, 1)
	go func() {
		peerErr <- func() error {
			// Expect the client's version message first.
			msg, _, err := codec.ReadMessage(peerConn, wire.MainNet)
			if err != nil {
				return err
			}
			if _, ok := msg.(*wire.MsgVersion); !ok {
				return errors.Errorf("peer got %s first, want version", msg.Command())
			}

			err = codec.WriteMessage(peerConn, compliantVersionMsg(), wire.MainNet)
			if err != nil {
				return err
			}

			// Absorb the extension notices until the client's verack.
			for {
				msg, _, err := codec.ReadMessage(peerConn, wire.MainNet)
				if err != nil {
					return err
				}
				if _, ok := msg.(*wire.MsgVerAck); ok {
					break
				}
			}
			err = codec.WriteMessage(peerConn, wire.NewMsgVerAck(), wire.MainNet)
			if err != nil {
				return err
			}

			// Serve the requested block.
			msg, _, err = codec.ReadMessage(peerConn, wire.MainNet)
			if err != nil {
				return err
			}
			getData, ok := msg.(*wire.MsgGetData)
			if !ok {
				return errors.Errorf("peer got %s, want getdata", msg.Command())
			}
			if len(getData.InvList) != 1 ||
				!getData.InvList[0].Hash.IsEqual(chaincfg.MainNetParams.GenesisHash) {

				return errors.Errorf("unexpected getdata inventory: %v", getData.InvList)
			}
			return codec.WriteMessage(peerConn, chaincfg.MainNetParams.GenesisBlock, wire.MainNet)
		}()
	}()

	session, err := Run(clientConn, clientConn, testConfig(), AwaitBlock())
	if err != nil {
		t.Fatalf("Run: %+v", err)
	}
	if session.State() != StateDone {
		t.Fatalf("Run: got state %s, want %s", session.State(), StateDone)
	}
	if err := <-peerErr; err != nil {
		t.Fatalf("peer: %v", err)
	}
}
