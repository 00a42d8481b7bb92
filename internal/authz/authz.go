// Package authz is the authorization gate: the only place in the server
// where "may actor X do Y to resource Z" is decided. Every mutating or
// disclosing operation passes through it; no other component compares
// privilege levels.
package authz

import (
	"context"
	"errors"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/graph"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

// Operation names a gated action on a secret or group.
type Operation int

const (
	// OpReadSecret discloses a secret's payloads.
	OpReadSecret Operation = iota
	// OpEditSecret rewrites a secret's payloads.
	OpEditSecret
	// OpShareSecret binds an existing secret into another group.
	OpShareSecret
	// OpRemoveSecret removes a secret from one or all groups.
	OpRemoveSecret
	// OpCreateSecretInGroup seeds a brand new secret into a group.
	OpCreateSecretInGroup
	// OpEditMembership changes a group's member set.
	OpEditMembership
	// OpEditGroupSecrets changes non-membership fields of a group's ACL.
	OpEditGroupSecrets
)

// String returns a short name for logs and audit context.
func (op Operation) String() string {
	switch op {
	case OpReadSecret:
		return "read_secret"
	case OpEditSecret:
		return "edit_secret"
	case OpShareSecret:
		return "share_secret"
	case OpRemoveSecret:
		return "remove_secret"
	case OpCreateSecretInGroup:
		return "create_secret_in_group"
	case OpEditMembership:
		return "edit_membership"
	case OpEditGroupSecrets:
		return "edit_group_secrets"
	default:
		return "unknown"
	}
}

// DenyReason explains a denial without leaking resource existence.
type DenyReason int

const (
	ReasonNone DenyReason = iota
	ReasonNotAMember
	ReasonInsufficientLevel
	ReasonUnverifiedUserRestricted
	ReasonRateLimited
)

// String returns the stable reason name.
func (r DenyReason) String() string {
	switch r {
	case ReasonNotAMember:
		return "not_a_member"
	case ReasonInsufficientLevel:
		return "insufficient_level"
	case ReasonUnverifiedUserRestricted:
		return "unverified_user_restricted"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "none"
	}
}

// Decision is the gate's verdict. Callers match on Permitted and never
// re-derive levels themselves.
type Decision struct {
	Permitted bool
	Level     models.AccessLevel
	Reason    DenyReason
}

// Permit builds a permitting decision carrying the actor's effective level.
func Permit(level models.AccessLevel) Decision {
	return Decision{Permitted: true, Level: level}
}

// Deny builds a denying decision.
func Deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into the taxonomy error surfaced to callers. The
// message is deliberately generic; the structured reason rides along as
// the error code.
func (d Decision) Err() error {
	if d.Permitted {
		return nil
	}
	if d.Reason == ReasonRateLimited {
		return apperr.New(apperr.KindRateLimited, "rate limited").WithCode(d.Reason.String())
	}
	return apperr.Newf(apperr.KindPermissionDenied, "denied: %s", d.Reason).WithCode(d.Reason.String())
}

// ReasonOf recovers the deny reason from an error produced by Err.
// ReasonNone for errors that carry no reason.
func ReasonOf(err error) DenyReason {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return ReasonNone
	}
	for _, r := range []DenyReason{
		ReasonNotAMember, ReasonInsufficientLevel,
		ReasonUnverifiedUserRestricted, ReasonRateLimited,
	} {
		if e.Code == r.String() {
			return r
		}
	}
	return ReasonNone
}

// Gate evaluates operations against the access-control graph.
type Gate struct {
	resolver *graph.Resolver
	store    graph.Store
}

// NewGate creates a Gate using the given resolver and store.
func NewGate(resolver *graph.Resolver, store graph.Store) *Gate {
	return &Gate{resolver: resolver, store: store}
}

// requiredLevel maps an operation to the minimum effective level.
func requiredLevel(op Operation) models.AccessLevel {
	switch op {
	case OpReadSecret:
		return models.AccessReadOnly
	case OpEditSecret, OpShareSecret, OpRemoveSecret, OpEditGroupSecrets:
		return models.AccessModifySecrets
	default:
		return models.AccessAdmin
	}
}

// AuthorizeSecret decides whether actor may perform op on the secret.
func (g *Gate) AuthorizeSecret(ctx context.Context, q repository.Querier, actor *models.Identity, op Operation, secretID int64) (Decision, error) {
	level, reachable, err := g.resolver.HighestAccessLevel(ctx, q, actor.ID, secretID)
	if err != nil {
		return Decision{}, err
	}
	if !reachable {
		return Deny(ReasonNotAMember), nil
	}
	if !level.AtLeast(requiredLevel(op)) {
		return Deny(ReasonInsufficientLevel), nil
	}

	if op == OpReadSecret && !actor.Verified {
		private, err := g.privateToActor(ctx, q, actor.ID, secretID)
		if err != nil {
			return Decision{}, err
		}
		if !private {
			return Deny(ReasonUnverifiedUserRestricted), nil
		}
	}
	return Permit(level), nil
}

// privateToActor reports whether the secret is bound to exactly one group
// whose membership resolves to exactly the actor. Unverified identities may
// only read such unshared secrets.
func (g *Gate) privateToActor(ctx context.Context, q repository.Querier, actorID, secretID int64) (bool, error) {
	bindings, err := g.store.ListBindingsBySecret(ctx, q, secretID)
	if err != nil {
		return false, err
	}
	if len(bindings) != 1 {
		return false, nil
	}

	all := []models.AccessLevel{models.AccessReadOnly, models.AccessModifySecrets, models.AccessAdmin}
	res, err := g.resolver.Resolve(ctx, q, bindings[0].GroupID, all)
	if err != nil {
		return false, err
	}
	if len(res.Identities) != 1 {
		return false, nil
	}
	_, ok := res.Identities[actorID]
	return ok, nil
}

// AuthorizeGroup decides whether actor may perform op on the group.
// Organization groups bypass the admin requirement for seeding new secrets:
// organizations may place secrets directly.
func (g *Gate) AuthorizeGroup(ctx context.Context, q repository.Querier, actor *models.Identity, op Operation, groupID int64) (Decision, error) {
	if op == OpCreateSecretInGroup {
		grp, err := g.store.GetGroup(ctx, q, groupID)
		if err != nil {
			return Decision{}, err
		}
		if grp.IsOrganization() {
			return Permit(models.AccessAdmin), nil
		}
	}

	level, err := g.resolver.HighestLevelOnGroup(ctx, q, actor.ID, groupID)
	if err != nil {
		return Decision{}, err
	}
	if level == models.AccessNone {
		return Deny(ReasonNotAMember), nil
	}
	if !level.AtLeast(requiredLevel(op)) {
		return Deny(ReasonInsufficientLevel), nil
	}
	return Permit(level), nil
}
