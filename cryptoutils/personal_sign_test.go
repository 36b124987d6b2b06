package cryptoutils

import (
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/enclagent/frontdoor/interfaces"
)

// Cross-check the EIP-191 digest against an independent Keccak-256
// implementation so a go-ethereum regression cannot go unnoticed.
func TestPersonalSignDigest_MatchesLegacyKeccak(t *testing.T) {
	messages := []string{
		"",
		"hello",
		"héllo with non-ascii bytes",
		"multi\nline\nchallenge text",
	}

	for _, msg := range messages {
		t.Run(strconv.Itoa(len(msg)), func(t *testing.T) {
			h := sha3.NewLegacyKeccak256()
			h.Write([]byte("\x19Ethereum Signed Message:\n"))
			h.Write([]byte(strconv.Itoa(len(msg))))
			h.Write([]byte(msg))

			assert.Equal(t, h.Sum(nil), PersonalSignDigest(msg))
		})
	}
}

// The length prefix must count bytes, not runes.
func TestPersonalSignDigest_ByteLengthPrefix(t *testing.T) {
	msg := "héllo" // 5 runes, 6 bytes

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("\x19Ethereum Signed Message:\n6"))
	h.Write([]byte(msg))

	assert.Equal(t, h.Sum(nil), PersonalSignDigest(msg))
}

func TestVerifyPersonalSignature_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	wallet, err := interfaces.NewWalletAddressFromBytes(crypto.PubkeyToAddress(key.PublicKey).Bytes())
	require.NoError(t, err)

	message := "frontdoor challenge\nnonce: abc123"
	sig, err := SignPersonal(message, key)
	require.NoError(t, err)

	require.True(t, IsSignatureLike(sig))
	require.NoError(t, VerifyPersonalSignature(message, sig, wallet))

	// Flipping any single byte of the signature must fail verification.
	raw, err := hex.DecodeString(sig[2:])
	require.NoError(t, err)
	for i := range raw {
		flipped := make([]byte, len(raw))
		copy(flipped, raw)
		flipped[i] ^= 0x01

		err := VerifyPersonalSignature(message, "0x"+hex.EncodeToString(flipped), wallet)
		assert.Error(t, err, "flipped byte %d", i)
	}

	// A different message must fail as well.
	err = VerifyPersonalSignature(message+" ", sig, wallet)
	assert.ErrorIs(t, err, interfaces.ErrSignatureMismatch)
}

func TestVerifyPersonalSignature_WrongSigner(t *testing.T) {
	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	declared, err := interfaces.NewWalletAddressFromBytes(crypto.PubkeyToAddress(otherKey.PublicKey).Bytes())
	require.NoError(t, err)

	sig, err := SignPersonal("prove wallet ownership", signerKey)
	require.NoError(t, err)

	err = VerifyPersonalSignature("prove wallet ownership", sig, declared)
	assert.ErrorIs(t, err, interfaces.ErrSignatureMismatch)
}

func TestDecodeSignature_RecoveryIDNormalization(t *testing.T) {
	sig := make([]byte, 65)
	for i := 0; i < 64; i++ {
		sig[i] = byte(i)
	}

	tests := []struct {
		name    string
		v       byte
		want    byte
		wantErr bool
	}{
		{name: "v=27", v: 27, want: 0},
		{name: "v=28", v: 28, want: 1},
		{name: "v=0 passthrough", v: 0, want: 0},
		{name: "v=1 passthrough", v: 1, want: 1},
		{name: "v=2 rejected", v: 2, wantErr: true},
		{name: "v=29 rejected", v: 29, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig[64] = tt.v
			decoded, err := DecodeSignature("0x" + hex.EncodeToString(sig))
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrMalformedSignature)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, decoded[64])
		})
	}
}

func TestIsSignatureLike_Shapes(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		want bool
	}{
		{name: "valid shape", sig: "0x" + repeatHex(130), want: true},
		{name: "missing prefix", sig: repeatHex(132), want: false},
		{name: "too short", sig: "0x" + repeatHex(128), want: false},
		{name: "too long", sig: "0x" + repeatHex(132), want: false},
		{name: "non-hex body", sig: "0x" + repeatHex(128) + "zz", want: false},
		{name: "empty", sig: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSignatureLike(tt.sig))
		})
	}
}

func repeatHex(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = "0123456789abcdef"[i%16]
	}
	return string(out)
}
