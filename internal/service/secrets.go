package service

import (
	"context"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/authz"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
	"github.com/ndanilin/vaultgraph/internal/sharing"
)

// CreateSecret seeds a brand new secret into the group and returns its id.
func (s *VaultService) CreateSecret(ctx context.Context, meta RequestMeta, groupID int64, clientPayload, criticalPayload []byte, viewable bool) (int64, error) {
	if err := s.admit(ctx, meta, false); err != nil {
		return 0, err
	}

	var secretID int64
	err := s.run(ctx, meta, func(q repository.Querier) error {
		var err error
		secretID, err = s.sharing.AddSecretToGroup(ctx, q, sharing.AddSecretRequest{
			Actor:           meta.Actor,
			GroupID:         groupID,
			ClientPayload:   clientPayload,
			CriticalPayload: criticalPayload,
			Viewable:        viewable,
		})
		if err != nil {
			return err
		}
		ev := s.event(meta, models.ActionSecretCreated)
		ev.SecretID = secretID
		ev.GroupID = groupID
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("create_secret", err)
	if err != nil {
		return 0, err
	}
	return secretID, nil
}

// ShareSecret binds an existing secret into another group.
func (s *VaultService) ShareSecret(ctx context.Context, meta RequestMeta, secretID, groupID int64, clientPayload, criticalPayload []byte) error {
	if err := s.admit(ctx, meta, false); err != nil {
		return err
	}

	err := s.run(ctx, meta, func(q repository.Querier) error {
		if _, err := s.sharing.AddSecretToGroup(ctx, q, sharing.AddSecretRequest{
			Actor:           meta.Actor,
			SecretID:        secretID,
			GroupID:         groupID,
			ClientPayload:   clientPayload,
			CriticalPayload: criticalPayload,
		}); err != nil {
			return err
		}
		ev := s.event(meta, models.ActionSecretShared)
		ev.SecretID = secretID
		ev.GroupID = groupID
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("share_secret", err)
	return err
}

// RemoveSecret unbinds the secret from one group, or from every
// non-organization group when groupID is nil.
func (s *VaultService) RemoveSecret(ctx context.Context, meta RequestMeta, secretID int64, groupID *int64) error {
	if err := s.admit(ctx, meta, false); err != nil {
		return err
	}

	err := s.run(ctx, meta, func(q repository.Querier) error {
		if err := s.sharing.RemoveSecretFromGroup(ctx, q, meta.Actor, secretID, groupID); err != nil {
			return err
		}
		ev := s.event(meta, models.ActionSecretRemoved)
		ev.SecretID = secretID
		if groupID != nil {
			ev.GroupID = *groupID
		}
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("remove_secret", err)
	return err
}

// ReadSecret discloses the secret's bindings with their encrypted payloads.
func (s *VaultService) ReadSecret(ctx context.Context, meta RequestMeta, secretID int64) ([]models.GroupSecret, error) {
	if err := s.admit(ctx, meta, false); err != nil {
		return nil, err
	}

	var bindings []models.GroupSecret
	err := s.run(ctx, meta, func(q repository.Querier) error {
		decision, err := s.gate.AuthorizeSecret(ctx, q, meta.Actor, authz.OpReadSecret, secretID)
		if err != nil {
			return err
		}
		if !decision.Permitted {
			return decision.Err()
		}
		bindings, err = s.store.ListBindingsBySecret(ctx, q, secretID)
		if err != nil {
			return err
		}
		ev := s.event(meta, models.ActionSecretRead)
		ev.SecretID = secretID
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("read_secret", err)
	if err != nil {
		return nil, err
	}
	return bindings, nil
}

// EditSecret rewrites the secret's payloads across all its bindings. The
// supplied payloads must cover exactly the current bindings: edits never
// change binding count or order.
func (s *VaultService) EditSecret(ctx context.Context, meta RequestMeta, secretID int64, payloads []models.BindingPayload) error {
	if err := s.admit(ctx, meta, false); err != nil {
		return err
	}

	err := s.run(ctx, meta, func(q repository.Querier) error {
		decision, err := s.gate.AuthorizeSecret(ctx, q, meta.Actor, authz.OpEditSecret, secretID)
		if err != nil {
			return err
		}
		if !decision.Permitted {
			return decision.Err()
		}

		bindings, err := s.store.ListBindingsBySecret(ctx, q, secretID)
		if err != nil {
			return err
		}
		if len(payloads) != len(bindings) {
			return apperr.Newf(apperr.KindInvalidRequest,
				"edit must supply payloads for all %d bindings", len(bindings))
		}
		byID := make(map[int64]models.GroupSecret, len(bindings))
		for _, b := range bindings {
			byID[b.ID] = b
		}
		supplied := make(map[int64]struct{}, len(payloads))
		for _, p := range payloads {
			if _, ok := byID[p.BindingID]; !ok {
				return apperr.Newf(apperr.KindInvalidRequest, "unknown binding %d", p.BindingID)
			}
			if _, dup := supplied[p.BindingID]; dup {
				return apperr.Newf(apperr.KindInvalidRequest, "duplicate payload for binding %d", p.BindingID)
			}
			supplied[p.BindingID] = struct{}{}
		}
		for _, p := range payloads {
			if err := s.store.UpdateBindingPayloads(ctx, q, p.BindingID, p.ClientPayload, p.CriticalPayload); err != nil {
				return err
			}
		}

		ev := s.event(meta, models.ActionSecretEdited)
		ev.SecretID = secretID
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("edit_secret", err)
	return err
}

// EditMembership replaces the group's ACL set, with mandatory re-keys when
// members are removed.
func (s *VaultService) EditMembership(ctx context.Context, meta RequestMeta, groupID int64, newEntries []models.ACLEntry, rekeys []models.BindingPayload) error {
	if err := s.admit(ctx, meta, false); err != nil {
		return err
	}

	err := s.run(ctx, meta, func(q repository.Querier) error {
		if err := s.sharing.EditGroupMembership(ctx, q, sharing.EditMembershipRequest{
			Actor:      meta.Actor,
			GroupID:    groupID,
			NewEntries: newEntries,
			Rekeys:     rekeys,
		}); err != nil {
			return err
		}
		ev := s.event(meta, models.ActionGroupMembersEdited)
		ev.GroupID = groupID
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("edit_membership", err)
	return err
}

// GroupSync is the bulk snapshot a client fetches when reconciling a whole
// group: its ACL entries and bindings. Recognized as a trusted operation
// class, it bypasses the per-identity rate limit.
type GroupSync struct {
	Group    models.Group
	Entries  []models.ACLEntry
	Bindings []models.GroupSecret
}

// SyncGroup returns the group's current ACL set and bindings. The actor
// needs at least read access.
func (s *VaultService) SyncGroup(ctx context.Context, meta RequestMeta, groupID int64) (*GroupSync, error) {
	if err := s.admit(ctx, meta, true); err != nil {
		return nil, err
	}

	var sync GroupSync
	err := s.run(ctx, meta, func(q repository.Querier) error {
		decision, err := s.gate.AuthorizeGroup(ctx, q, meta.Actor, authz.OpReadSecret, groupID)
		if err != nil {
			return err
		}
		if !decision.Permitted {
			return decision.Err()
		}

		group, err := s.store.GetGroup(ctx, q, groupID)
		if err != nil {
			return err
		}
		sync.Group = *group
		if sync.Entries, err = s.store.ListEntriesByGroup(ctx, q, groupID); err != nil {
			return err
		}
		sync.Bindings, err = s.store.ListBindingsByGroup(ctx, q, groupID)
		return err
	})
	s.observe("sync_group", err)
	if err != nil {
		return nil, err
	}
	return &sync, nil
}
