// Package graph implements the traversal algorithms over the access-control
// graph: reachability resolution, cycle detection for group membership
// edges, and the invariant checks built on top of them.
//
// All traversals use an explicit work queue and a visited set keyed by group
// id. Nothing here recurses on the call stack and nothing mutates shared
// state, so resolutions may run concurrently across transactions.
package graph

import (
	"context"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

// Store is the read access the resolver needs. *repository.PostgresGraphRepository
// satisfies it; tests use an in-memory implementation.
type Store interface {
	GetGroup(ctx context.Context, q repository.Querier, id int64) (*models.Group, error)
	ListEntriesByGroup(ctx context.Context, q repository.Querier, groupID int64) ([]models.ACLEntry, error)
	ListEntriesForMember(ctx context.Context, q repository.Querier, member models.Member) ([]models.ACLEntry, error)
	ListBindingsBySecret(ctx context.Context, q repository.Querier, secretID int64) ([]models.GroupSecret, error)
}

// maxVisitedGroups bounds every traversal. The graph is kept acyclic at
// write time, but a write-time bug must never become an unbounded read-time
// walk.
const maxVisitedGroups = 100000

// Resolver computes transitive closures over ACL edges.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolution is the result of a reachability traversal: the identities
// reached through qualifying edges and every group visited on the way
// (including the start group).
type Resolution struct {
	Identities map[int64]struct{}
	Groups     map[int64]struct{}
}

// Resolve walks breadth-first from startGroup following only edges whose
// level is in levels. Identity edges terminate; group edges recurse. Each
// group is visited at most once, keyed by id — intermediate nodes may be
// partially loaded, so names are never used as keys.
func (r *Resolver) Resolve(ctx context.Context, q repository.Querier, startGroup int64, levels []models.AccessLevel) (Resolution, error) {
	allowed := make(map[models.AccessLevel]struct{}, len(levels))
	for _, l := range levels {
		allowed[l] = struct{}{}
	}

	res := Resolution{
		Identities: make(map[int64]struct{}),
		Groups:     map[int64]struct{}{startGroup: {}},
	}

	queue := []int64{startGroup}
	for len(queue) > 0 {
		groupID := queue[0]
		queue = queue[1:]

		entries, err := r.store.ListEntriesByGroup(ctx, q, groupID)
		if err != nil {
			return Resolution{}, err
		}
		for _, e := range entries {
			if _, ok := allowed[e.Level]; !ok {
				continue
			}
			switch e.Member.Kind {
			case models.MemberKindIdentity:
				res.Identities[e.Member.ID] = struct{}{}
			case models.MemberKindGroup:
				if _, seen := res.Groups[e.Member.ID]; seen {
					continue
				}
				if len(res.Groups) >= maxVisitedGroups {
					return Resolution{}, apperr.New(apperr.KindInternal, "group graph too large to resolve")
				}
				res.Groups[e.Member.ID] = struct{}{}
				queue = append(queue, e.Member.ID)
			}
		}
	}
	return res, nil
}

// Ancestors returns every group that reaches groupID through member-group
// edges, walking upward. groupID itself is included.
func (r *Resolver) Ancestors(ctx context.Context, q repository.Querier, groupID int64) (map[int64]struct{}, error) {
	seen := map[int64]struct{}{groupID: {}}
	queue := []int64{groupID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		entries, err := r.store.ListEntriesForMember(ctx, q, models.GroupMember(current))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, ok := seen[e.GroupID]; ok {
				continue
			}
			if len(seen) >= maxVisitedGroups {
				return nil, apperr.New(apperr.KindInternal, "group graph too large to resolve")
			}
			seen[e.GroupID] = struct{}{}
			queue = append(queue, e.GroupID)
		}
	}
	return seen, nil
}

// descendingLevels orders the traversal filters from most to least
// privileged. A path's effective level is the weakest edge on it, so
// resolving with the filter {Admin} first, then {Admin, ModifySecrets},
// then all three yields the highest effective level.
var descendingLevels = [][]models.AccessLevel{
	{models.AccessAdmin},
	{models.AccessAdmin, models.AccessModifySecrets},
	{models.AccessAdmin, models.AccessModifySecrets, models.AccessReadOnly},
}

var levelForFilter = []models.AccessLevel{
	models.AccessAdmin,
	models.AccessModifySecrets,
	models.AccessReadOnly,
}

// HighestLevelOnGroup computes the identity's effective access level on one
// group: the best path through nested membership, with organization admins
// escalated to implicit Admin on every group their organization reaches.
func (r *Resolver) HighestLevelOnGroup(ctx context.Context, q repository.Querier, identityID, groupID int64) (models.AccessLevel, error) {
	isOrgAdmin, err := r.orgAdminOf(ctx, q, identityID, groupID)
	if err != nil {
		return models.AccessNone, err
	}
	if isOrgAdmin {
		return models.AccessAdmin, nil
	}

	for i, levels := range descendingLevels {
		res, err := r.Resolve(ctx, q, groupID, levels)
		if err != nil {
			return models.AccessNone, err
		}
		if _, ok := res.Identities[identityID]; ok {
			return levelForFilter[i], nil
		}
	}
	return models.AccessNone, nil
}

// orgAdminOf reports whether the identity holds a direct Admin edge on a
// top-level organization that reaches groupID.
func (r *Resolver) orgAdminOf(ctx context.Context, q repository.Querier, identityID, groupID int64) (bool, error) {
	ancestors, err := r.Ancestors(ctx, q, groupID)
	if err != nil {
		return false, err
	}

	direct, err := r.store.ListEntriesForMember(ctx, q, models.IdentityMember(identityID))
	if err != nil {
		return false, err
	}
	for _, e := range direct {
		if e.Level != models.AccessAdmin {
			continue
		}
		if _, ok := ancestors[e.GroupID]; !ok {
			continue
		}
		g, err := r.store.GetGroup(ctx, q, e.GroupID)
		if err != nil {
			return false, err
		}
		if g.IsOrganization() {
			return true, nil
		}
	}
	return false, nil
}

// HighestAccessLevel returns the identity's best effective level over all of
// the secret's bindings, and false when no path exists at all.
func (r *Resolver) HighestAccessLevel(ctx context.Context, q repository.Querier, identityID, secretID int64) (models.AccessLevel, bool, error) {
	bindings, err := r.store.ListBindingsBySecret(ctx, q, secretID)
	if err != nil {
		return models.AccessNone, false, err
	}

	best := models.AccessNone
	for _, b := range bindings {
		level, err := r.HighestLevelOnGroup(ctx, q, identityID, b.GroupID)
		if err != nil {
			return models.AccessNone, false, err
		}
		best = models.MaxAccessLevel(best, level)
		if best == models.AccessAdmin {
			break
		}
	}
	return best, best != models.AccessNone, nil
}
