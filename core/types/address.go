package types

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte account identifier. Its canonical textual form is the
// EIP-55 checksummed hex string (e.g. "0xAb58...") produced by
// go-ethereum's common.Address.Hex(). All map keys and equality checks in
// this module use this canonical form, so any ingestion path (chain log
// decoding, channel message decoding) MUST run input through ParseAddress
// before it reaches the ledger.
type Address struct {
	addr common.Address
}

// ZeroAddress is the all-zero 20-byte address.
var ZeroAddress = Address{}

// ParseAddress normalizes a hex address string (with or without "0x",
// regardless of case) into its canonical checksummed form. It rejects
// anything that isn't a well-formed 20-byte hex string.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	return Address{addr: common.HexToAddress(s)}, nil
}

// AddressFromBytes builds an Address from exactly 20 raw bytes.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != common.AddressLength {
		return Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrBadAddress, common.AddressLength, len(b))
	}
	return Address{addr: common.BytesToAddress(b)}, nil
}

// Bytes returns the raw 20-byte representation.
func (a Address) Bytes() []byte {
	return a.addr.Bytes()
}

// Hex returns the canonical EIP-55 checksummed hex string, e.g. "0xAb58...".
func (a Address) Hex() string {
	return a.addr.Hex()
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether this is the zero address.
func (a Address) IsZero() bool {
	return a.addr == common.Address{}
}

// Less provides the canonical ascending ordering used for every
// output-affecting iteration over a set of addresses (Merkle build, block
// snapshotting, member-count listing): lexicographic order on the raw bytes.
func (a Address) Less(other Address) bool {
	return a.addr.Cmp(other.addr) < 0
}

// MarshalJSON renders the address as its canonical hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON parses and canonicalizes a hex address string.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText renders the address as its canonical hex string; this lets
// BurntSushi/toml and other encoding.TextMarshaler-aware encoders treat an
// Address as a plain string field.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText parses and canonicalizes a hex address string.
func (a *Address) UnmarshalText(data []byte) error {
	parsed, err := ParseAddress(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
