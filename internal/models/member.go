package models

import "fmt"

// MemberKind discriminates the two possible targets of an ACL edge.
type MemberKind int

const (
	// MemberKindNone is the invalid zero value.
	MemberKindNone MemberKind = iota
	// MemberKindIdentity marks an edge granting access to a single identity.
	MemberKindIdentity
	// MemberKindGroup marks an edge granting access to a whole member group.
	MemberKindGroup
)

// String returns a short name for logging.
func (k MemberKind) String() string {
	switch k {
	case MemberKindIdentity:
		return "identity"
	case MemberKindGroup:
		return "group"
	default:
		return "none"
	}
}

// Member is the target of an ACL edge: exactly one identity or one group.
// The tagged form makes the both-set/both-unset states of a dual-nullable
// schema unrepresentable; the repository maps it to two nullable columns.
type Member struct {
	Kind MemberKind
	ID   int64
}

// IdentityMember builds a Member referring to an identity.
func IdentityMember(id int64) Member {
	return Member{Kind: MemberKindIdentity, ID: id}
}

// GroupMember builds a Member referring to a group.
func GroupMember(id int64) Member {
	return Member{Kind: MemberKindGroup, ID: id}
}

// Validate rejects the zero value and members without an id.
func (m Member) Validate() error {
	if m.Kind != MemberKindIdentity && m.Kind != MemberKindGroup {
		return fmt.Errorf("member kind must be identity or group")
	}
	if m.ID <= 0 {
		return fmt.Errorf("member id must be positive")
	}
	return nil
}

// IsIdentity reports whether the member is an identity.
func (m Member) IsIdentity() bool { return m.Kind == MemberKindIdentity }

// IsGroup reports whether the member is a group.
func (m Member) IsGroup() bool { return m.Kind == MemberKindGroup }
