// Package cryptoutils implements EIP-191 "personal_sign" message hashing and
// ECDSA signature recovery for wallet challenge verification.
//
// Verification is the trust boundary of the whole service: every function in
// this package is pure and side-effect free, returns typed errors on any
// malformed input, and must stay bit-exact against Ethereum tooling
// (eth_sign / personal_sign as implemented by wallets).
//
// The verification pipeline is:
//
//  1. Decode the 0x-prefixed 65-byte signature and normalize its recovery id.
//  2. Hash the message with the EIP-191 prefix ("\x19Ethereum Signed
//     Message:\n" + decimal byte length + message).
//  3. Recover the secp256k1 public key from the signature and digest.
//  4. Derive the Ethereum address (Keccak-256 of the 64-byte public key,
//     last 20 bytes) and compare against the expected wallet.
package cryptoutils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/enclagent/frontdoor/interfaces"
)

// personalSignPrefix is the EIP-191 version 0x45 prefix. The length that
// follows it is the decimal ASCII representation of the message's byte
// length, not its character count.
const personalSignPrefix = "\x19Ethereum Signed Message:\n"

// signatureHexLen is the length of a 0x-prefixed 65-byte signature.
const signatureHexLen = 2 + 65*2

// PersonalSignDigest computes the Keccak-256 digest of a message with the
// EIP-191 personal_sign prefix applied.
func PersonalSignDigest(message string) []byte {
	prefixed := personalSignPrefix + strconv.Itoa(len(message)) + message
	return crypto.Keccak256([]byte(prefixed))
}

// IsSignatureLike is a cheap structural pre-check used before touching any
// crypto primitives: 0x prefix followed by exactly 130 hex characters.
func IsSignatureLike(signatureHex string) bool {
	if len(signatureHex) != signatureHexLen || !strings.HasPrefix(signatureHex, "0x") {
		return false
	}
	_, err := hex.DecodeString(signatureHex[2:])
	return err == nil
}

// DecodeSignature decodes a 0x-prefixed hex signature into 65 bytes
// (r || s || v) with the recovery id normalized to 0/1. Signatures with
// v in {27, 28} are accepted and normalized; v in {0, 1} passes through;
// anything else is rejected.
func DecodeSignature(signatureHex string) ([]byte, error) {
	if !IsSignatureLike(signatureHex) {
		return nil, fmt.Errorf("%w: expected 0x-prefixed 65-byte hex signature", interfaces.ErrMalformedSignature)
	}

	sig, err := hex.DecodeString(signatureHex[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedSignature, err)
	}

	switch sig[64] {
	case 0, 1:
		// already normalized
	case 27, 28:
		sig[64] -= 27
	default:
		return nil, fmt.Errorf("%w: invalid recovery id %d", interfaces.ErrMalformedSignature, sig[64])
	}

	return sig, nil
}

// RecoverPersonalSigner recovers the wallet address that produced the given
// personal_sign signature over message.
func RecoverPersonalSigner(message, signatureHex string) (interfaces.WalletAddress, error) {
	sig, err := DecodeSignature(signatureHex)
	if err != nil {
		return interfaces.WalletAddress{}, err
	}

	pubkey, err := crypto.SigToPub(PersonalSignDigest(message), sig)
	if err != nil {
		return interfaces.WalletAddress{}, fmt.Errorf("%w: public key recovery failed: %v", interfaces.ErrSignatureMismatch, err)
	}

	addr := crypto.PubkeyToAddress(*pubkey)
	return interfaces.NewWalletAddressFromBytes(addr.Bytes())
}

// VerifyPersonalSignature checks that signatureHex is a valid personal_sign
// signature over message by the expected wallet. A signer mismatch is an
// error, never a panic.
func VerifyPersonalSignature(message, signatureHex string, expected interfaces.WalletAddress) error {
	recovered, err := RecoverPersonalSigner(message, signatureHex)
	if err != nil {
		return err
	}

	if !recovered.Equal(expected) {
		return fmt.Errorf("%w: recovered %s", interfaces.ErrSignatureMismatch, recovered)
	}

	return nil
}

// SignPersonal produces a 0x-prefixed personal_sign signature over message
// with v in {27, 28}, matching what Ethereum wallets emit. It exists for
// tests and local tooling; the service itself never holds private keys.
func SignPersonal(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(PersonalSignDigest(message), key)
	if err != nil {
		return "", err
	}

	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
