package main

import (
	"fmt"
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
	"github.com/blockspam/blockspam/spammer"
	"github.com/blockspam/blockspam/util/network"
	"github.com/blockspam/blockspam/version"
)

const (
	defaultLogFilename    = "blockspam.log"
	defaultErrLogFilename = "blockspam_err.log"

	// defaultBlockHash is a well-known historical mainnet block, deep enough
	// that every archival node serves it.
	defaultBlockHash = "0000000000000000000592a974b1b9f087cb77628bb4a097d5c2c11b3476a58e"
)

var (
	// Default configuration options
	defaultHomeDir    = btcutil.AppDataDir("blockspam", false)
	defaultLogFile    = filepath.Join(defaultHomeDir, defaultLogFilename)
	defaultErrLogFile = filepath.Join(defaultHomeDir, defaultErrLogFilename)
)

type configFlags struct {
	ShowVersion     bool          `short:"V" long:"version" description:"Display version information and exit"`
	Address         string        `short:"a" long:"address" required:"true" description:"Remote node endpoint as host:port (port defaults to the network's default)"`
	Network         string        `long:"network" default:"bitcoin" choice:"bitcoin" choice:"testnet" choice:"signet" choice:"regtest" description:"Network whose magic number tags every frame"`
	RequestType     string        `short:"t" long:"request-type" default:"witness-block" choice:"witness-block" choice:"compact-block" choice:"block-transactions" choice:"legacy-block" description:"Request payload kind to flood the node with"`
	Connections     int           `short:"c" long:"connections" default:"8" description:"Number of concurrent connections"`
	Number          uint64        `short:"n" long:"number" default:"5000" description:"Total requests across all connections, truncated down to a multiple of --connections"`
	BlockHash       string        `short:"b" long:"block-hash" description:"Target block hash (default: a well-known historical mainnet block)"`
	UserAgent       string        `long:"user-agent" description:"User agent advertised in the version message"`
	BlockHeight     int32         `long:"block-height" description:"Chain height advertised in the version message"`
	ConnectTimeout  time.Duration `long:"connect-timeout" default:"30s" description:"Connection establishment timeout -- NOTE may be too short for tor"`
	ExchangeTimeout time.Duration `long:"exchange-timeout" default:"30s" description:"Overall handshake-plus-exchange timeout per connection"`
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

// spammerConfig resolves the parsed flags into a run configuration.
func (cfg *configFlags) spammerConfig() (*spammer.Config, error) {
	params, err := netparams.FromName(cfg.Network)
	if err != nil {
		return nil, err
	}

	blockHashStr := cfg.BlockHash
	if blockHashStr == "" {
		blockHashStr = defaultBlockHash
	}
	blockHash, err := chainhash.NewHashFromStr(blockHashStr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid block hash %q", blockHashStr)
	}

	address, err := network.NormalizeAddress(cfg.Address, params.DefaultPort)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid address %q", cfg.Address)
	}

	spamCfg := &spammer.Config{
		Protocol: protocol.Config{
			Net:         params.Net,
			TargetBlock: *blockHash,
			UserAgent:   cfg.UserAgent,
			BlockHeight: cfg.BlockHeight,
		},
		Address:         address,
		RequestType:     spammer.RequestType(cfg.RequestType),
		Connections:     cfg.Connections,
		Number:          cfg.Number,
		ConnectTimeout:  cfg.ConnectTimeout,
		ExchangeTimeout: cfg.ExchangeTimeout,
	}

	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		spamCfg.Dial = proxy.DialTimeout
	}

	return spamCfg, nil
}
