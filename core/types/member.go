package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Member is a per-address record in the community ledger. Earnings are a
// 256-bit non-negative integer, matching the uint256 representation the
// on-chain token and verifier contracts use; it is monotonically
// non-decreasing across the member's lifetime and is never converted to a
// floating point type.
type Member struct {
	Address  Address
	Earnings *uint256.Int
	Active   bool
	Name     string
}

// NewMember constructs a freshly-joined member with zero earnings.
func NewMember(addr Address) *Member {
	return &Member{
		Address:  addr,
		Earnings: uint256.NewInt(0),
		Active:   true,
	}
}

// AddRevenue increases the member's earnings by amount. amount must be
// non-negative; since uint256.Int has no sign, any carry that would wrap
// past 2**256-1 panics rather than silently overflowing.
func (m *Member) AddRevenue(amount *uint256.Int) {
	if amount == nil {
		panic("types: AddRevenue called with nil amount")
	}
	sum, overflow := new(uint256.Int).AddOverflow(m.Earnings, amount)
	if overflow {
		panic(fmt.Sprintf("types: earnings overflow for %s", m.Address))
	}
	m.Earnings = sum
}

// SetActive flips the membership flag without touching earnings.
func (m *Member) SetActive(active bool) {
	m.Active = active
}

// Clone returns a deep copy so callers can snapshot a member into a Block
// without aliasing the live ledger's *uint256.Int.
func (m *Member) Clone() *Member {
	return &Member{
		Address:  m.Address,
		Earnings: new(uint256.Int).Set(m.Earnings),
		Active:   m.Active,
		Name:     m.Name,
	}
}

// MemberRecord is the neutral, serialization-friendly projection of a
// Member: earnings are rendered as a decimal string so no precision is lost
// crossing a JSON or store boundary.
type MemberRecord struct {
	Address  Address `json:"address"`
	Earnings string  `json:"earnings"`
	Active   bool    `json:"active"`
	Name     string  `json:"name,omitempty"`
}

// ToRecord projects the member into its neutral record form.
func (m *Member) ToRecord() MemberRecord {
	return MemberRecord{
		Address:  m.Address,
		Earnings: m.Earnings.Dec(),
		Active:   m.Active,
		Name:     m.Name,
	}
}

// FromRecord rebuilds a Member from its neutral record form.
func FromRecord(r MemberRecord) (*Member, error) {
	earnings, err := parseDecimalUint256(r.Earnings)
	if err != nil {
		return nil, fmt.Errorf("types: member %s: %w", r.Address, err)
	}
	return &Member{
		Address:  r.Address,
		Earnings: earnings,
		Active:   r.Active,
		Name:     r.Name,
	}, nil
}

func parseDecimalUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal earnings %q: %w", s, err)
	}
	return v, nil
}
