// Package wallet validates Solana wallet addresses and transaction
// signatures as they appear on deposits and withdrawals. Validation is
// format-only; on-chain verification happens in the payout collaborator.
package wallet

import (
	"errors"
	"fmt"
	"regexp"
)

// base58Regex matches the Bitcoin base58 alphabet used by Solana
// (no 0, O, I, l).
var base58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

var (
	ErrInvalidAddress   = errors.New("wallet: invalid address format")
	ErrInvalidSignature = errors.New("wallet: invalid transaction signature format")
)

// Solana addresses are 32-byte ed25519 public keys, base58-encoded to
// 32-44 characters. Signatures are 64 bytes, encoding to 87-88.
const (
	minAddressLen   = 32
	maxAddressLen   = 44
	minSignatureLen = 87
	maxSignatureLen = 88
)

// ValidateAddress checks that addr is a plausibly-encoded Solana address.
func ValidateAddress(addr string) error {
	if len(addr) < minAddressLen || len(addr) > maxAddressLen {
		return fmt.Errorf("%w: length %d (expected %d-%d)",
			ErrInvalidAddress, len(addr), minAddressLen, maxAddressLen)
	}
	if !base58Regex.MatchString(addr) {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	return nil
}

// ValidateSignature checks that sig is a plausibly-encoded Solana
// transaction signature.
func ValidateSignature(sig string) error {
	if len(sig) < minSignatureLen || len(sig) > maxSignatureLen {
		return fmt.Errorf("%w: length %d (expected %d-%d)",
			ErrInvalidSignature, len(sig), minSignatureLen, maxSignatureLen)
	}
	if !base58Regex.MatchString(sig) {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, sig)
	}
	return nil
}
