package enums

// MembershipStatus is a user's standing within a tenant. Only active
// members receive per-seat credits.
type MembershipStatus string

const (
	MembershipStatusInvited MembershipStatus = "invited"
	MembershipStatusActive  MembershipStatus = "active"
	MembershipStatusRemoved MembershipStatus = "removed"
)

var membershipStatuses = set[MembershipStatus]{
	MembershipStatusInvited,
	MembershipStatusActive,
	MembershipStatusRemoved,
}

func (m MembershipStatus) String() string { return string(m) }

func (m MembershipStatus) IsValid() bool { return membershipStatuses.has(m) }
