package models

import "time"

// GroupKind is the closed set of group variants.
type GroupKind string

const (
	// GroupPrivate is a single user's personal container. Unnamed, never
	// auto-deleted.
	GroupPrivate GroupKind = "private"
	// GroupAutoDelete is an ad hoc container holding one ACL set; it is
	// deleted when its last secret binding is removed.
	GroupAutoDelete GroupKind = "autodelete"
	// GroupNamedTeam is a user-visible team.
	GroupNamedTeam GroupKind = "named_team"
	// GroupOrganization is the root of an organization. It is never the
	// member side of an ACL edge.
	GroupOrganization GroupKind = "organization"
)

// Valid reports whether k is a known group kind.
func (k GroupKind) Valid() bool {
	switch k {
	case GroupPrivate, GroupAutoDelete, GroupNamedTeam, GroupOrganization:
		return true
	}
	return false
}

// Identity is a user account. Identities are never hard-deleted; removing
// every ACL edge pointing at one deactivates it. An Identity without a Name
// is incomplete and must not be compared or used as a map key.
type Identity struct {
	ID                  int64
	Name                string
	PasswordHash        []byte
	PublicKey           []byte
	EncryptedPrivateKey []byte
	Verified            bool
	TwoFactorSecret     string
	BackupCodes         string
	Referrer            string
	CreatedAt           time.Time
}

// Complete reports whether the identity has been assigned a name and may
// participate in equality checks.
func (i Identity) Complete() bool { return i.Name != "" }

// Group is a named or anonymous container of access rights. It carries its
// own keypair; the private half is encrypted per member on each ACL edge.
type Group struct {
	ID        int64
	Name      string
	Kind      GroupKind
	PublicKey []byte
	CreatedAt time.Time
}

// IsOrganization reports whether the group is a top-level organization.
func (g Group) IsOrganization() bool { return g.Kind == GroupOrganization }

// ACLEntry is a directed permission edge from a group (the resource) to one
// member, carrying the member's access level and the group key encrypted for
// the member's public key.
type ACLEntry struct {
	ID                int64
	GroupID           int64
	Member            Member
	Level             AccessLevel
	EncryptedGroupKey []byte
}

// Secret is an opaque protected item. King records the creator and is
// informational only. A secret with zero bindings is deleted.
type Secret struct {
	ID       int64
	KingID   int64
	Viewable bool
}

// GroupSecret binds one secret into one group, carrying two independently
// encrypted payloads under the group's key. Position orders a group's
// bindings; edits must preserve both order and count.
type GroupSecret struct {
	ID              int64
	GroupID         int64
	SecretID        int64
	ClientPayload   []byte
	CriticalPayload []byte
	Version         int64
	Position        int
}

// BindingPayload is a re-encrypted payload pair supplied by a client when a
// membership change forces a re-key of remaining bindings.
type BindingPayload struct {
	BindingID       int64
	ClientPayload   []byte
	CriticalPayload []byte
}
