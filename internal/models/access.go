// Package models defines the core data structures of the access-control
// graph: identities, groups, ACL edges, secrets, group-secret bindings,
// and audit events.
package models

// AccessLevel is the privilege a member holds on a group. Levels form a
// strict total order: Admin > ModifySecrets > ReadOnly.
type AccessLevel int

const (
	// AccessNone is the zero value and means "no access". It is never
	// persisted on an ACL edge.
	AccessNone AccessLevel = iota
	// AccessReadOnly allows reading secrets held by the group.
	AccessReadOnly
	// AccessModifySecrets allows editing secret content but not group
	// membership.
	AccessModifySecrets
	// AccessAdmin allows everything, including membership changes.
	AccessAdmin
)

// String returns the wire/storage name of the level.
func (l AccessLevel) String() string {
	switch l {
	case AccessReadOnly:
		return "readonly"
	case AccessModifySecrets:
		return "modify_secrets"
	case AccessAdmin:
		return "admin"
	default:
		return "none"
	}
}

// ParseAccessLevel maps a storage name back to an AccessLevel.
// Unknown names map to AccessNone.
func ParseAccessLevel(s string) AccessLevel {
	switch s {
	case "readonly":
		return AccessReadOnly
	case "modify_secrets":
		return AccessModifySecrets
	case "admin":
		return AccessAdmin
	default:
		return AccessNone
	}
}

// Valid reports whether the level is one of the three persisted levels.
func (l AccessLevel) Valid() bool {
	return l == AccessReadOnly || l == AccessModifySecrets || l == AccessAdmin
}

// AtLeast reports whether l grants at least the privilege of other.
func (l AccessLevel) AtLeast(other AccessLevel) bool {
	return l >= other
}

// CanEditSecrets reports whether the level allows editing secret content.
func (l AccessLevel) CanEditSecrets() bool {
	return l == AccessAdmin || l == AccessModifySecrets
}

// MaxAccessLevel returns the higher of two levels.
func MaxAccessLevel(a, b AccessLevel) AccessLevel {
	if a >= b {
		return a
	}
	return b
}

// AdminCapable holds the levels that may administer a secret's bindings.
var AdminCapable = []AccessLevel{AccessAdmin, AccessModifySecrets}

// LevelsAtLeast returns every valid level at or above min, useful as the
// filter set for reachability traversals.
func LevelsAtLeast(min AccessLevel) []AccessLevel {
	var out []AccessLevel
	for _, l := range []AccessLevel{AccessReadOnly, AccessModifySecrets, AccessAdmin} {
		if l >= min {
			out = append(out, l)
		}
	}
	return out
}
