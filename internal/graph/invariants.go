package graph

import (
	"context"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

// ValidateEdge rejects malformed ACL edges before they reach the store:
// the member must be exactly one identity or group, the level must be one
// of the three persisted levels, and a top-level organization may never be
// the member side of an edge.
func ValidateEdge(edge models.ACLEntry, memberGroupKind models.GroupKind) error {
	if err := edge.Member.Validate(); err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, "malformed acl edge", err)
	}
	if !edge.Level.Valid() {
		return apperr.Newf(apperr.KindInvalidRequest, "invalid access level %d", edge.Level)
	}
	if edge.Member.IsGroup() && memberGroupKind == models.GroupOrganization {
		return apperr.New(apperr.KindInvalidRequest, "an organization cannot be a member of another group")
	}
	return nil
}

// WouldCreateCycle checks whether adding an edge group → candidateMember
// would make the group graph cyclic. It walks depth-first from the
// candidate member through its member-group edges; revisiting group means
// the new edge would close a loop.
//
// Callers must invoke this before persisting any group-to-group edge, and
// roll back the surrounding transaction when it fails.
func (r *Resolver) WouldCreateCycle(ctx context.Context, q repository.Querier, groupID, candidateMemberID int64) error {
	if groupID == candidateMemberID {
		return apperr.New(apperr.KindCyclicGroup, "a group cannot be a member of itself")
	}

	visited := map[int64]struct{}{candidateMemberID: {}}
	stack := []int64{candidateMemberID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := r.store.ListEntriesByGroup(ctx, q, current)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.Member.IsGroup() {
				continue
			}
			if e.Member.ID == groupID {
				return apperr.New(apperr.KindCyclicGroup, "edge would create a membership cycle")
			}
			if _, ok := visited[e.Member.ID]; ok {
				continue
			}
			if len(visited) >= maxVisitedGroups {
				return apperr.New(apperr.KindInternal, "group graph too large to check for cycles")
			}
			visited[e.Member.ID] = struct{}{}
			stack = append(stack, e.Member.ID)
		}
	}
	return nil
}

// CheckNoOrphan verifies that at least one of the secret's bindings is
// reachable by an identity holding an admin-capable level. Run after every
// mutation that touches a secret's bindings or the membership of a group
// holding it; a failure must abort the surrounding transaction.
func (r *Resolver) CheckNoOrphan(ctx context.Context, q repository.Querier, secretID int64) error {
	bindings, err := r.store.ListBindingsBySecret(ctx, q, secretID)
	if err != nil {
		return err
	}
	if len(bindings) == 0 {
		// A bindingless secret is deleted by the caller, not orphaned.
		return nil
	}

	capable := []models.AccessLevel{models.AccessAdmin, models.AccessModifySecrets}
	for _, b := range bindings {
		res, err := r.Resolve(ctx, q, b.GroupID, capable)
		if err != nil {
			return err
		}
		if len(res.Identities) > 0 {
			return nil
		}
		// Organization admins hold implicit Admin on every group the
		// organization reaches, so an org ancestor with any direct
		// admin identity also anchors the secret.
		ok, err := r.orgAnchors(ctx, q, b.GroupID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Newf(apperr.KindOrphanedSecret, "secret %d would have no admin-capable member", secretID)
}

// orgAnchors reports whether some organization ancestor of groupID has a
// direct Admin identity edge.
func (r *Resolver) orgAnchors(ctx context.Context, q repository.Querier, groupID int64) (bool, error) {
	ancestors, err := r.Ancestors(ctx, q, groupID)
	if err != nil {
		return false, err
	}
	for id := range ancestors {
		g, err := r.store.GetGroup(ctx, q, id)
		if err != nil {
			return false, err
		}
		if !g.IsOrganization() {
			continue
		}
		entries, err := r.store.ListEntriesByGroup(ctx, q, id)
		if err != nil {
			return false, err
		}
		for _, e := range entries {
			if e.Member.IsIdentity() && e.Level == models.AccessAdmin {
				return true, nil
			}
		}
	}
	return false, nil
}

// Organizations returns the distinct top-level organizations reachable
// upward from the secret's binding groups.
func (r *Resolver) Organizations(ctx context.Context, q repository.Querier, secretID int64) (map[int64]struct{}, error) {
	bindings, err := r.store.ListBindingsBySecret(ctx, q, secretID)
	if err != nil {
		return nil, err
	}

	orgs := make(map[int64]struct{})
	for _, b := range bindings {
		ancestors, err := r.Ancestors(ctx, q, b.GroupID)
		if err != nil {
			return nil, err
		}
		for id := range ancestors {
			if _, ok := orgs[id]; ok {
				continue
			}
			g, err := r.store.GetGroup(ctx, q, id)
			if err != nil {
				return nil, err
			}
			if g.IsOrganization() {
				orgs[id] = struct{}{}
			}
		}
	}
	return orgs, nil
}

// CheckSingleOrganization verifies that the secret's bindings resolve to at
// most one distinct top-level organization. Run after any binding change;
// a violation is a user-visible conflict that aborts the transaction.
func (r *Resolver) CheckSingleOrganization(ctx context.Context, q repository.Querier, secretID int64) error {
	orgs, err := r.Organizations(ctx, q, secretID)
	if err != nil {
		return err
	}
	if len(orgs) > 1 {
		return apperr.Newf(apperr.KindMultiOrganization, "secret %d would span %d organizations", secretID, len(orgs))
	}
	return nil
}
