package enums

import "fmt"

// SignupEntryKind maps to the signup_entry_kind enum in Postgres.
type SignupEntryKind string

const (
	SignupEntryKindInvite   SignupEntryKind = "invite"
	SignupEntryKindApproval SignupEntryKind = "approval"
)

var validSignupEntryKinds = []SignupEntryKind{
	SignupEntryKindInvite,
	SignupEntryKindApproval,
}

func (k SignupEntryKind) IsValid() bool {
	for _, candidate := range validSignupEntryKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseSignupEntryKind converts raw input into SignupEntryKind.
func ParseSignupEntryKind(value string) (SignupEntryKind, error) {
	for _, candidate := range validSignupEntryKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid signup entry kind %q", value)
}

// SignupEntryStatus maps to the signup_entry_status enum in Postgres.
type SignupEntryStatus string

const (
	SignupEntryStatusPending  SignupEntryStatus = "pending"
	SignupEntryStatusReserved SignupEntryStatus = "reserved"
	SignupEntryStatusConsumed SignupEntryStatus = "consumed"
	SignupEntryStatusRevoked  SignupEntryStatus = "revoked"
)

// Terminal reports whether no further transitions are allowed.
func (s SignupEntryStatus) Terminal() bool {
	return s == SignupEntryStatusConsumed || s == SignupEntryStatusRevoked
}
