package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/blockspam/blockspam/logger"
	"github.com/blockspam/blockspam/protocol"
	"github.com/blockspam/blockspam/util/panics"
	"github.com/blockspam/blockspam/util/profiling"
	"github.com/blockspam/blockspam/version"
)

// readBufferSize is sized to hold a full block in one buffer.
const readBufferSize = 1 << 22

func main() {
	defer logger.BackendLog.Close()
	defer panics.HandlePanic(log, "MAIN", nil)

	cfg, err := parseConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing command-line arguments: %s\n", err)
		os.Exit(1)
	}

	// Show version at startup.
	log.Infof("Version %s", version.Version())

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		profiling.Start(cfg.Profile, log)
	}

	address, protoCfg, dial, err := cfg.fetchConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in configuration: %s\n", err)
		os.Exit(1)
	}

	if err := fetchBlock(address, protoCfg, dial, cfg.ConnectTimeout, cfg.ExchangeTimeout); err != nil {
		log.Errorf("Block fetch failed: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("Received block %s from %s\n", protoCfg.TargetBlock, address)
}

// fetchBlock connects to the peer, completes the handshake and fetches and
// verifies the target block over the single connection.
func fetchBlock(address string, protoCfg *protocol.Config, dial dialFunc,
	connectTimeout, exchangeTimeout time.Duration) error {

	conn, err := dial("tcp", address, connectTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Infof("Connected to node at %s", address)

	if err := conn.SetDeadline(time.Now().Add(exchangeTimeout)); err != nil {
		return err
	}

	reader := bufio.NewReaderSize(conn, readBufferSize)
	session, err := protocol.Run(reader, conn, protoCfg, protocol.AwaitBlock())
	if err != nil {
		return err
	}
	log.Infof("Received block successfully (peer protocol version %d)",
		session.RemoteVersion())
	return nil
}
