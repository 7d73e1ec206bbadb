package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// SignFunc is a wallet-originated signing capability.
type SignFunc func(ctx context.Context, message []byte) ([]byte, error)

// contractConnectors are connector ids known to front contract wallets.
// A match short-circuits the bytecode probe.
var contractConnectors = map[string]struct{}{
	"coinbaseWalletSDK": {},
	"safe":              {},
}

// delegationDesignator is the EIP-7702 prefix: code at the address is a
// delegation to the 20-byte account that follows it.
var delegationDesignator = []byte{0xEF, 0x01, 0x00}

// CodeReader fetches deployed bytecode for an address.
type CodeReader interface {
	CodeAt(ctx context.Context, address string) ([]byte, error)
}

// Classification is the result of probing a wallet.
type Classification struct {
	Type Type
	// Delegate is the EIP-7702 delegate address, recorded for diagnostics
	// only. Empty unless the probed code carries the designator.
	Delegate string
}

// Classify decides whether a wallet is a plain key pair or contract-backed.
// A failed bytecode fetch degrades to key-pair, never an error. Results must
// not be cached across chain switches; callers re-classify per chain.
func Classify(ctx context.Context, connectorID, address string, reader CodeReader, logger *zap.Logger) Classification {
	if _, ok := contractConnectors[connectorID]; ok {
		return Classification{Type: TypeContract}
	}

	code, err := reader.CodeAt(ctx, address)
	if err != nil {
		if logger != nil {
			logger.Warn("bytecode probe failed, assuming key pair",
				zap.String("address", address), zap.Error(err))
		}
		return Classification{Type: TypeKeyPair}
	}
	if len(code) == 0 {
		return Classification{Type: TypeKeyPair}
	}
	if bytes.HasPrefix(code, delegationDesignator) && len(code) >= len(delegationDesignator)+20 {
		delegate := "0x" + hex.EncodeToString(code[len(delegationDesignator):len(delegationDesignator)+20])
		if logger != nil {
			logger.Info("wallet delegates via EIP-7702",
				zap.String("address", address), zap.String("delegate", delegate))
		}
		// Delegated accounts still sign through the contract path.
		return Classification{Type: TypeContract, Delegate: delegate}
	}
	return Classification{Type: TypeContract}
}

// WalletSigner adapts an external wallet into a Signer.
type WalletSigner struct {
	address string
	chainID int64
	typ     Type
	sign    SignFunc
}

// NewWalletSigner classifies the wallet on the given chain and wraps its
// signing capability. Construct a new signer after every chain switch.
func NewWalletSigner(ctx context.Context, connectorID, address string, chainID int64, sign SignFunc, reader CodeReader, logger *zap.Logger) *WalletSigner {
	cls := Classify(ctx, connectorID, address, reader, logger)
	return &WalletSigner{
		address: strings.ToLower(address),
		chainID: chainID,
		typ:     cls.Type,
		sign:    sign,
	}
}

// Identity returns the lower-cased wallet address.
func (s *WalletSigner) Identity() string { return s.address }

// Sign delegates to the wallet.
func (s *WalletSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	return s.sign(ctx, message)
}

// Type reports the classification derived at construction.
func (s *WalletSigner) Type() Type { return s.typ }

// ChainID returns the chain the signer was constructed for. Only meaningful
// for contract-backed signers.
func (s *WalletSigner) ChainID() int64 {
	if s.typ == TypeKeyPair {
		return 0
	}
	return s.chainID
}
