package netparams

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

// FromName returns the chain parameters of the network with the given name.
// The magic number every frame must carry is Params.Net and the default peer
// port is Params.DefaultPort.
func FromName(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "bitcoin", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, errors.Errorf("unknown network %q, expected one of: "+
		"bitcoin, testnet, signet, regtest", name)
}
