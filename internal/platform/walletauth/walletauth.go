// Package walletauth proves wallet ownership with Ed25519 signatures and
// issues short-lived session tokens for the proven wallet.
package walletauth

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

var (
	ErrInvalidWallet    = errors.New("invalid wallet address")
	ErrInvalidSignature = errors.New("invalid signature encoding")
	ErrVerifyFailed     = errors.New("signature verification failed")
	ErrUnauthenticated  = errors.New("unauthenticated")
)

// ParseWallet decodes a base58 wallet address into its Ed25519 public key.
func ParseWallet(wallet string) (ed25519.PublicKey, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, ErrInvalidWallet
	}
	raw, err := base58.Decode(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidWallet, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSignature accepts a JSON byte array or a hex, base64 or base58 string.
func DecodeSignature(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrInvalidSignature
	}

	var sig []byte
	switch raw[0] {
	case '[':
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		sig = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidSignature, i)
			}
			sig[i] = byte(v)
		}
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		decoded, ok := decodeSignatureString(strings.TrimSpace(s))
		if !ok {
			return nil, ErrInvalidSignature
		}
		sig = decoded
	default:
		return nil, ErrInvalidSignature
	}

	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(sig))
	}
	return sig, nil
}

// decodeSignatureString tries each text encoding and keeps the first that
// yields exactly one signature worth of bytes. base58 precedes base64: its
// alphabet is a base64 subset.
func decodeSignatureString(s string) ([]byte, bool) {
	if s == "" {
		return nil, false
	}
	decoders := []func(string) ([]byte, error){
		hex.DecodeString,
		base58.Decode,
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	}
	for _, decode := range decoders {
		out, err := decode(s)
		if err == nil && len(out) == ed25519.SignatureSize {
			return out, true
		}
	}
	return nil, false
}

// Verify checks that sig is wallet's signature over the UTF-8 bytes of message.
func Verify(wallet, message string, sig []byte) error {
	pub, err := ParseWallet(wallet)
	if err != nil {
		return err
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, []byte(message), sig) {
		return ErrVerifyFailed
	}
	return nil
}
