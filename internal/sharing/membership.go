package sharing

import (
	"context"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/authz"
	"github.com/ndanilin/vaultgraph/internal/graph"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

// EditMembershipRequest replaces a group's ACL set. NewEntries is the
// desired complete member set; Rekeys must cover every remaining binding of
// every secret held by the group whenever a member is removed (partial
// re-keys are rejected).
type EditMembershipRequest struct {
	Actor      *models.Identity
	GroupID    int64
	NewEntries []models.ACLEntry
	Rekeys     []models.BindingPayload
}

// memberKey identifies a member across the old and new entry sets.
type memberKey struct {
	kind models.MemberKind
	id   int64
}

// EditGroupMembership applies the requested ACL set to the group.
//
// The symmetric difference of old and new members decides the required
// privilege: any addition or removal needs Admin (organization admins
// escalate); pure level or key changes need only secret-modify rights.
// After applying, the no-orphan invariant is re-validated for every secret
// whose bindings were touched; any violation rejects the whole edit.
func (s *Service) EditGroupMembership(ctx context.Context, q repository.Querier, req EditMembershipRequest) error {
	group, err := s.store.GetGroup(ctx, q, req.GroupID)
	if err != nil {
		return err
	}

	old, err := s.store.ListEntriesByGroup(ctx, q, req.GroupID)
	if err != nil {
		return err
	}

	oldByMember := make(map[memberKey]models.ACLEntry, len(old))
	for _, e := range old {
		oldByMember[memberKey{e.Member.Kind, e.Member.ID}] = e
	}
	newByMember := make(map[memberKey]models.ACLEntry, len(req.NewEntries))
	for _, e := range req.NewEntries {
		if err := e.Member.Validate(); err != nil {
			return apperr.Wrap(apperr.KindInvalidRequest, "malformed member", err)
		}
		key := memberKey{e.Member.Kind, e.Member.ID}
		if _, dup := newByMember[key]; dup {
			return apperr.New(apperr.KindInvalidRequest, "duplicate member in new acl set")
		}
		newByMember[key] = e
	}

	var added, removed, changed []models.ACLEntry
	for key, e := range newByMember {
		if prev, ok := oldByMember[key]; !ok {
			added = append(added, e)
		} else if prev.Level != e.Level || string(prev.EncryptedGroupKey) != string(e.EncryptedGroupKey) {
			e.ID = prev.ID
			changed = append(changed, e)
		}
	}
	for key, e := range oldByMember {
		if _, ok := newByMember[key]; !ok {
			removed = append(removed, e)
		}
	}

	op := authz.OpEditGroupSecrets
	if len(added) > 0 || len(removed) > 0 {
		op = authz.OpEditMembership
	}
	decision, err := s.gate.AuthorizeGroup(ctx, q, req.Actor, op, req.GroupID)
	if err != nil {
		return err
	}
	if !decision.Permitted {
		return decision.Err()
	}

	touched, err := s.affectedSecrets(ctx, q, req.GroupID)
	if err != nil {
		return err
	}

	if len(removed) > 0 {
		if err := s.checkRekeysComplete(ctx, q, touched, req.Rekeys); err != nil {
			return err
		}
	}

	for _, e := range added {
		if err := s.validateNewEdge(ctx, q, group, e); err != nil {
			return err
		}
		entry := e
		entry.GroupID = req.GroupID
		if _, err := s.store.CreateACLEntry(ctx, q, entry); err != nil {
			return err
		}
	}
	for _, e := range removed {
		if err := s.store.DeleteACLEntry(ctx, q, e.ID); err != nil {
			return err
		}
	}
	for _, e := range changed {
		// Level/key updates are replace-in-place: drop and recreate the
		// edge so validation runs on the new shape too.
		if err := s.validateNewEdge(ctx, q, group, e); err != nil {
			return err
		}
		if err := s.store.DeleteACLEntry(ctx, q, e.ID); err != nil {
			return err
		}
		entry := e
		entry.ID = 0
		entry.GroupID = req.GroupID
		if _, err := s.store.CreateACLEntry(ctx, q, entry); err != nil {
			return err
		}
	}

	for _, rk := range req.Rekeys {
		if err := s.store.UpdateBindingPayloads(ctx, q, rk.BindingID, rk.ClientPayload, rk.CriticalPayload); err != nil {
			return err
		}
	}

	for secretID := range touched {
		if err := s.resolver.CheckNoOrphan(ctx, q, secretID); err != nil {
			return err
		}
	}
	return nil
}

// validateNewEdge runs the structural and acyclicity checks a new or
// rewritten edge must pass before persistence.
func (s *Service) validateNewEdge(ctx context.Context, q repository.Querier, group *models.Group, e models.ACLEntry) error {
	var memberKind models.GroupKind
	if e.Member.IsGroup() {
		memberGroup, err := s.store.GetGroup(ctx, q, e.Member.ID)
		if err != nil {
			return err
		}
		memberKind = memberGroup.Kind
	}
	if err := graph.ValidateEdge(e, memberKind); err != nil {
		return err
	}
	if e.Member.IsGroup() {
		if err := s.resolver.WouldCreateCycle(ctx, q, group.ID, e.Member.ID); err != nil {
			return err
		}
	}
	return nil
}

// affectedSecrets maps secret id → the ids of all its bindings, for every
// secret currently bound into the group.
func (s *Service) affectedSecrets(ctx context.Context, q repository.Querier, groupID int64) (map[int64][]int64, error) {
	bindings, err := s.store.ListBindingsByGroup(ctx, q, groupID)
	if err != nil {
		return nil, err
	}

	touched := make(map[int64][]int64, len(bindings))
	for _, b := range bindings {
		all, err := s.store.ListBindingsBySecret(ctx, q, b.SecretID)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(all))
		for _, ab := range all {
			ids = append(ids, ab.ID)
		}
		touched[b.SecretID] = ids
	}
	return touched, nil
}

// checkRekeysComplete requires exactly one re-encrypted payload pair per
// remaining binding of every affected secret. Missing or unknown binding
// ids reject the edit; nothing is ever silently skipped.
func (s *Service) checkRekeysComplete(ctx context.Context, q repository.Querier, touched map[int64][]int64, rekeys []models.BindingPayload) error {
	supplied := make(map[int64]struct{}, len(rekeys))
	for _, rk := range rekeys {
		if _, dup := supplied[rk.BindingID]; dup {
			return apperr.New(apperr.KindInvalidRequest, "duplicate re-key payload")
		}
		supplied[rk.BindingID] = struct{}{}
	}

	required := make(map[int64]struct{})
	for _, ids := range touched {
		for _, id := range ids {
			required[id] = struct{}{}
		}
	}

	for id := range required {
		if _, ok := supplied[id]; !ok {
			return apperr.Newf(apperr.KindInvalidRequest, "member removal requires re-encrypted payloads for binding %d", id)
		}
	}
	for id := range supplied {
		if _, ok := required[id]; !ok {
			return apperr.Newf(apperr.KindInvalidRequest, "re-key payload for unknown binding %d", id)
		}
	}
	return nil
}
