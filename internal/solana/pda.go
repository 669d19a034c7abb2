package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const pdaMarker = "ProgramDerivedAddress"

// DecodePublicKey decodes a base58 address and checks it is 32 bytes.
func DecodePublicKey(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("address %q: expected 32 bytes, got %d", address, len(raw))
	}
	return raw, nil
}

// IsOnCurve reports whether a 32-byte key is a valid ed25519 point.
// Wallet keys are on the curve, program derived addresses are not.
func IsOnCurve(key []byte) bool {
	if len(key) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}

// FindProgramAddress derives the canonical program derived address and bump
// for seeds under programID.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := DecodePublicKey(programID)
	if err != nil {
		return "", 0, err
	}

	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte(pdaMarker))
		sum := h.Sum(nil)

		if !IsOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}

	return "", 0, fmt.Errorf("no viable bump for program %s", programID)
}

// FindAssociatedTokenAddress derives the associated token account of wallet
// for mint under the given token and associated-token programs.
func FindAssociatedTokenAddress(wallet, mint, tokenProgramID, ataProgramID string) (string, error) {
	w, err := DecodePublicKey(wallet)
	if err != nil {
		return "", err
	}
	m, err := DecodePublicKey(mint)
	if err != nil {
		return "", err
	}
	tp, err := DecodePublicKey(tokenProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{w, tp, m}, ataProgramID)
	return addr, err
}
