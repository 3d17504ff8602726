package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// hexDecode32 parses a "0x"-prefixed (or bare) hex string into exactly 32
// bytes, matching the Merkle tree's root hash encoding.
func hexDecode32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return out, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("types: invalid hex root hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("types: root hash must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
