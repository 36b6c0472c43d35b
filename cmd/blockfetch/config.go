package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/go-socks/socks"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/blockspam/blockspam/logger"
	"github.com/blockspam/blockspam/netparams"
	"github.com/blockspam/blockspam/protocol"
	"github.com/blockspam/blockspam/util/network"
	"github.com/blockspam/blockspam/version"
)

const (
	defaultLogFilename    = "blockfetch.log"
	defaultErrLogFilename = "blockfetch_err.log"

	defaultBlockHash = "0000000000000000000592a974b1b9f087cb77628bb4a097d5c2c11b3476a58e"
)

var (
	// Default configuration options
	defaultHomeDir    = btcutil.AppDataDir("blockfetch", false)
	defaultLogFile    = filepath.Join(defaultHomeDir, defaultLogFilename)
	defaultErrLogFile = filepath.Join(defaultHomeDir, defaultErrLogFilename)
)

type configFlags struct {
	ShowVersion     bool          `short:"V" long:"version" description:"Display version information and exit"`
	Address         string        `short:"a" long:"address" required:"true" description:"Remote node endpoint as host:port (port defaults to the network's default)"`
	Network         string        `long:"network" default:"bitcoin" choice:"bitcoin" choice:"testnet" choice:"signet" choice:"regtest" description:"Network whose magic number tags every frame"`
	BlockHash       string        `short:"b" long:"block-hash" description:"Hash of the block to fetch and verify (default: a well-known historical mainnet block)"`
	UserAgent       string        `long:"user-agent" description:"User agent advertised in the version message"`
	BlockHeight     int32         `long:"block-height" description:"Chain height advertised in the version message"`
	ConnectTimeout  time.Duration `long:"connect-timeout" default:"30s" description:"Connection establishment timeout -- NOTE may be too short for tor"`
	ExchangeTimeout time.Duration `long:"exchange-timeout" default:"30s" description:"Overall handshake-plus-fetch timeout"`
	Proxy           string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser       string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass       string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	LogLevel        string        `short:"d" long:"loglevel" default:"info" description:"Logging level {trace, debug, info, warn, error, critical}"`
	Profile         string        `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
}

func parseConfig() (*configFlags, error) {
	cfg := &configFlags{}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	_, err := parser.Parse()

	// Show the version and exit if the version flag was specified.
	if cfg.ShowVersion {
		appName := filepath.Base(os.Args[0])
		appName = strings.TrimSuffix(appName, filepath.Ext(appName))
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	if err != nil {
		return nil, err
	}

	if cfg.Profile != "" {
		profilePort, err := strconv.Atoi(cfg.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			return nil, errors.New("The profile port must be between 1024 and 65535")
		}
	}

	if err := logger.InitLog(defaultLogFile, defaultErrLogFile); err != nil {
		return nil, err
	}
	if err := logger.SetLogLevels(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// dialFunc opens the connection to the peer. It matches net.DialTimeout so
// the SOCKS proxy dialer can be swapped in.
type dialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// fetchConfig resolves the parsed flags into the peer address, the session
// configuration and the dial function to reach the peer with.
func (cfg *configFlags) fetchConfig() (string, *protocol.Config, dialFunc, error) {
	params, err := netparams.FromName(cfg.Network)
	if err != nil {
		return "", nil, nil, err
	}

	blockHashStr := cfg.BlockHash
	if blockHashStr == "" {
		blockHashStr = defaultBlockHash
	}
	blockHash, err := chainhash.NewHashFromStr(blockHashStr)
	if err != nil {
		return "", nil, nil, errors.Wrapf(err, "invalid block hash %q", blockHashStr)
	}

	address, err := network.NormalizeAddress(cfg.Address, params.DefaultPort)
	if err != nil {
		return "", nil, nil, errors.Wrapf(err, "invalid address %q", cfg.Address)
	}

	protoCfg := &protocol.Config{
		Net:         params.Net,
		TargetBlock: *blockHash,
		UserAgent:   cfg.UserAgent,
		BlockHeight: cfg.BlockHeight,
	}

	var dial dialFunc = net.DialTimeout
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		dial = proxy.DialTimeout
	}

	return address, protoCfg, dial, nil
}
