package spammer

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/blockspam/blockspam/codec"
	"github.com/blockspam/blockspam/logger"
	"github.com/blockspam/blockspam/protocol"
)

const (
	// DefaultConnectTimeout bounds each connection attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultExchangeTimeout bounds the handshake and request exchange on
	// each connection.
	DefaultExchangeTimeout = 30 * time.Second
)

// ErrConnect is returned when a peer connection cannot be established.
var ErrConnect = errors.New("cannot connect to peer")

// ErrCapabilityMismatch is returned when the peer answers a narrower block
// request with a full block, meaning it does not serve the requested form for
// the target block.
var ErrCapabilityMismatch = errors.New("peer capability mismatch")

// DialFunc opens a connection to a peer. It matches net.DialTimeout so a
// SOCKS proxy dialer can be swapped in.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Config holds the parameters of a spam run.
type Config struct {
	// Protocol configures the handshake of every connection, including the
	// network and the target block.
	Protocol protocol.Config

	// Address is the peer address in host:port form.
	Address string

	// RequestType selects the request message to flood the peer with.
	RequestType RequestType

	// Connections is the number of concurrent peer connections.
	Connections int

	// Number is the total number of requests to send across all
	// connections. It is truncated down to a multiple of Connections so
	// every connection sends the same share.
	Number uint64

	// ConnectTimeout and ExchangeTimeout default to the package defaults
	// when zero.
	ConnectTimeout  time.Duration
	ExchangeTimeout time.Duration

	// Dial opens each peer connection. Defaults to net.DialTimeout.
	Dial DialFunc
}

// Result summarizes a completed run.
type Result struct {
	// Responses is the number of expected responses received.
	Responses uint64

	// Elapsed is the wall time from the first connection attempt until the
	// last response.
	Elapsed time.Duration
}

// outcome is a single event fanned in from the workers: a matched response
// when err is nil, a terminal connection failure otherwise.
type outcome struct {
	err error
}

// adjustedTarget truncates number down to a multiple of connections.
func adjustedTarget(number uint64, connections int) uint64 {
	return number - number%uint64(connections)
}

// buildBatch encodes msg once and repeats the frame count times, so a
// connection's whole share goes out in a single write.
func buildBatch(msg wire.Message, btcnet wire.BitcoinNet, count uint64) ([]byte, error) {
	encoded, err := codec.EncodeMessage(msg, btcnet)
	if err != nil {
		return nil, err
	}
	return bytes.Repeat(encoded, int(count)), nil
}

// Run floods the configured peer with identical block requests over the
// configured number of connections and waits for every response. The first
// connection failure aborts the run and is returned as its error; the
// remaining connections are not cancelled and wind down on their own.
func Run(cfg *Config) (*Result, error) {
	runCfg := *cfg
	if runCfg.ConnectTimeout == 0 {
		runCfg.ConnectTimeout = DefaultConnectTimeout
	}
	if runCfg.ExchangeTimeout == 0 {
		runCfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	if runCfg.Dial == nil {
		runCfg.Dial = net.DialTimeout
	}
	if runCfg.Connections <= 0 {
		return nil, errors.New("the number of connections must be positive")
	}

	target := adjustedTarget(runCfg.Number, runCfg.Connections)
	if target != runCfg.Number {
		log.Warnf("Truncating %d requests to %d, a multiple of the %d connections",
			runCfg.Number, target, runCfg.Connections)
	}
	if target == 0 {
		return nil, errors.Errorf("%d requests cannot be split over %d connections",
			runCfg.Number, runCfg.Connections)
	}
	perConnection := target / uint64(runCfg.Connections)

	requestMsg, err := runCfg.RequestType.Message(&runCfg.Protocol.TargetBlock)
	if err != nil {
		return nil, err
	}
	batch, err := buildBatch(requestMsg, runCfg.Protocol.Net, perConnection)
	if err != nil {
		return nil, err
	}

	onEnd := logger.LogAndMeasureExecutionTime(log, "spammer.Run")
	defer onEnd()
	log.Infof("Sending %d %s requests for block %s to %s over %d connections",
		target, runCfg.RequestType, runCfg.Protocol.TargetBlock,
		runCfg.Address, runCfg.Connections)

	// The buffer fits every event any worker could ever send, so workers
	// that outlive an aborted run never block on the channel.
	outcomes := make(chan outcome, target+uint64(runCfg.Connections))
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(runCfg.Connections)
	for i := 0; i < runCfg.Connections; i++ {
		w := &worker{
			id:       i,
			cfg:      &runCfg,
			batch:    batch,
			requests: perConnection,
			outcomes: outcomes,
		}
		spawn(fmt.Sprintf("spammer-connection-%d", i), func() {
			defer wg.Done()
			w.run()
		})
	}
	spawn("spammer-fan-in-closer", func() {
		wg.Wait()
		close(outcomes)
	})

	received := uint64(0)
	for o := range outcomes {
		if o.err != nil {
			return nil, o.err
		}
		received++
		if received == target {
			break
		}
	}
	if received < target {
		return nil, errors.Errorf("received %d of %d expected responses",
			received, target)
	}

	elapsed := time.Since(start)
	log.Infof("Received all %d responses in %s", received, elapsed)
	return &Result{Responses: received, Elapsed: elapsed}, nil
}
