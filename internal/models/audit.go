package models

import "time"

// Action enumerates every auditable operation. The set is closed: the audit
// store rejects unknown actions, and query filters only ever select from the
// category subsets below.
type Action string

const (
	ActionIdentityCreated  Action = "identity.created"
	ActionIdentityLogin    Action = "identity.login"
	ActionIdentityVerified Action = "identity.verified"

	ActionSecretCreated Action = "secret.created"
	ActionSecretRead    Action = "secret.read"
	ActionSecretEdited  Action = "secret.edited"
	ActionSecretShared  Action = "secret.shared"
	ActionSecretRemoved Action = "secret.removed"
	ActionSecretDeleted Action = "secret.deleted"

	ActionGroupCreated       Action = "group.created"
	ActionGroupDeleted       Action = "group.deleted"
	ActionGroupMembersEdited Action = "group.members_edited"

	ActionTxnBegun      Action = "txn.begun"
	ActionTxnCommitted  Action = "txn.committed"
	ActionTxnRolledBack Action = "txn.rolled_back"
)

// UserActions are the actions selectable by an identity filter.
var UserActions = []Action{
	ActionIdentityCreated, ActionIdentityLogin, ActionIdentityVerified,
	ActionSecretCreated, ActionSecretRead, ActionSecretEdited,
	ActionSecretShared, ActionSecretRemoved,
}

// SecretActions are the actions selectable by a secret filter.
var SecretActions = []Action{
	ActionSecretCreated, ActionSecretRead, ActionSecretEdited,
	ActionSecretShared, ActionSecretRemoved, ActionSecretDeleted,
}

// GroupActions are the actions selectable by a group filter.
var GroupActions = []Action{
	ActionGroupCreated, ActionGroupDeleted, ActionGroupMembersEdited,
	ActionSecretShared, ActionSecretRemoved,
}

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool {
	switch a {
	case ActionIdentityCreated, ActionIdentityLogin, ActionIdentityVerified,
		ActionSecretCreated, ActionSecretRead, ActionSecretEdited,
		ActionSecretShared, ActionSecretRemoved, ActionSecretDeleted,
		ActionGroupCreated, ActionGroupDeleted, ActionGroupMembersEdited,
		ActionTxnBegun, ActionTxnCommitted, ActionTxnRolledBack:
		return true
	}
	return false
}

// AuditEvent is one immutable record of an authorized operation. Events are
// appended exactly once per side-effecting or disclosing operation and never
// mutated or deleted.
type AuditEvent struct {
	ID         int64
	ActorID    int64
	IdentityID int64 // optional target identity; 0 when absent
	SecretID   int64 // optional target secret; 0 when absent
	GroupID    int64 // optional target group; 0 when absent
	Action     Action
	At         time.Time
	SourceIP   string
	DeviceID   string
	TxnToken   string
}
