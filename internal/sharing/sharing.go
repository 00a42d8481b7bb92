// Package sharing implements the secret-sharing operations: binding secrets
// into groups, unbinding them, and editing group membership. Every
// operation re-checks the graph invariants (no orphaned secret, single
// organization, acyclic membership) before the surrounding transaction may
// commit; any violation aborts the whole operation.
package sharing

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/authz"
	"github.com/ndanilin/vaultgraph/internal/graph"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

// Store is the persistence surface the sharing operations need.
// *repository.PostgresGraphRepository satisfies it.
type Store interface {
	graph.Store

	GetSecret(ctx context.Context, q repository.Querier, id int64) (*models.Secret, error)
	CreateSecret(ctx context.Context, q repository.Querier, secret models.Secret) (int64, error)
	DeleteSecret(ctx context.Context, q repository.Querier, id int64) error

	GetBinding(ctx context.Context, q repository.Querier, groupID, secretID int64) (*models.GroupSecret, error)
	CreateBinding(ctx context.Context, q repository.Querier, b models.GroupSecret) (int64, error)
	DeleteBinding(ctx context.Context, q repository.Querier, id int64) error
	ListBindingsByGroup(ctx context.Context, q repository.Querier, groupID int64) ([]models.GroupSecret, error)
	UpdateBindingPayloads(ctx context.Context, q repository.Querier, bindingID int64, clientPayload, criticalPayload []byte) error

	CreateACLEntry(ctx context.Context, q repository.Querier, entry models.ACLEntry) (int64, error)
	DeleteACLEntry(ctx context.Context, q repository.Querier, id int64) error
	DeleteGroup(ctx context.Context, q repository.Querier, id int64) error
}

// Service carries out sharing operations. Permission questions go through
// the authorization gate; the service itself never compares levels.
type Service struct {
	store    Store
	resolver *graph.Resolver
	gate     *authz.Gate
}

// NewService constructs a sharing Service.
func NewService(store Store, resolver *graph.Resolver, gate *authz.Gate) *Service {
	return &Service{store: store, resolver: resolver, gate: gate}
}

// AddSecretRequest describes adding a new or existing secret to a group.
// SecretID zero means "create a new secret owned by the actor".
type AddSecretRequest struct {
	Actor           *models.Identity
	SecretID        int64
	GroupID         int64
	ClientPayload   []byte
	CriticalPayload []byte
	Viewable        bool
}

// AddSecretToGroup binds a secret into a group and returns the secret id.
//
// A new secret requires Admin on the target group (organizations bypass the
// check and may seed secrets directly). An existing secret requires an
// admin-capable level on some current binding. The single-organization
// invariant is re-checked across all bindings after the write.
func (s *Service) AddSecretToGroup(ctx context.Context, q repository.Querier, req AddSecretRequest) (int64, error) {
	if _, err := s.store.GetGroup(ctx, q, req.GroupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.New(apperr.KindNotFound, "group not found")
		}
		return 0, err
	}

	secretID := req.SecretID
	if secretID == 0 {
		decision, err := s.gate.AuthorizeGroup(ctx, q, req.Actor, authz.OpCreateSecretInGroup, req.GroupID)
		if err != nil {
			return 0, err
		}
		if !decision.Permitted {
			return 0, decision.Err()
		}
		secretID, err = s.store.CreateSecret(ctx, q, models.Secret{
			KingID:   req.Actor.ID,
			Viewable: req.Viewable,
		})
		if err != nil {
			return 0, err
		}
	} else {
		if _, err := s.store.GetSecret(ctx, q, secretID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, apperr.New(apperr.KindNotFound, "secret not found")
			}
			return 0, err
		}
		decision, err := s.gate.AuthorizeSecret(ctx, q, req.Actor, authz.OpShareSecret, secretID)
		if err != nil {
			return 0, err
		}
		if !decision.Permitted {
			return 0, decision.Err()
		}

		existing, err := s.store.GetBinding(ctx, q, req.GroupID, secretID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		if existing != nil {
			return 0, apperr.New(apperr.KindDuplicateBinding, "group already holds this secret")
		}
	}

	if _, err := s.store.CreateBinding(ctx, q, models.GroupSecret{
		GroupID:         req.GroupID,
		SecretID:        secretID,
		ClientPayload:   req.ClientPayload,
		CriticalPayload: req.CriticalPayload,
	}); err != nil {
		return 0, err
	}

	// Spans multiple rows, so it can only be verified after the tentative
	// write; the coordinator rolls everything back on failure.
	if err := s.resolver.CheckSingleOrganization(ctx, q, secretID); err != nil {
		return 0, err
	}
	return secretID, nil
}

// RemoveSecretFromGroup removes the secret's binding in the given group, or
// in every non-organization group when groupID is nil. Emptied autodelete
// groups are deleted with their ACL edges, and a secret whose last binding
// goes away is deleted itself.
func (s *Service) RemoveSecretFromGroup(ctx context.Context, q repository.Querier, actor *models.Identity, secretID int64, groupID *int64) error {
	if _, err := s.store.GetSecret(ctx, q, secretID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "secret not found")
		}
		return err
	}

	decision, err := s.gate.AuthorizeSecret(ctx, q, actor, authz.OpRemoveSecret, secretID)
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

	var toRemove []models.GroupSecret
	if groupID != nil {
		grp, err := s.store.GetGroup(ctx, q, *groupID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.KindNotFound, "group not found")
			}
			return err
		}
		if grp.IsOrganization() {
			return apperr.New(apperr.KindInvalidRequest, "secrets cannot be removed from an organization")
		}
		for _, b := range bindings {
			if b.GroupID == *groupID {
				toRemove = append(toRemove, b)
			}
		}
	} else {
		for _, b := range bindings {
			grp, err := s.store.GetGroup(ctx, q, b.GroupID)
			if err != nil {
				return err
			}
			if !grp.IsOrganization() {
				toRemove = append(toRemove, b)
			}
		}
	}
	if len(toRemove) == 0 {
		return apperr.New(apperr.KindNotFound, "no matching binding")
	}

	removedFrom := make(map[int64]struct{}, len(toRemove))
	for _, b := range toRemove {
		if err := s.store.DeleteBinding(ctx, q, b.ID); err != nil {
			return err
		}
		removedFrom[b.GroupID] = struct{}{}
	}

	for gid := range removedFrom {
		if err := s.reapIfAutodelete(ctx, q, gid); err != nil {
			return err
		}
	}

	remaining := len(bindings) - len(toRemove)
	if remaining == 0 {
		return s.store.DeleteSecret(ctx, q, secretID)
	}
	return s.resolver.CheckNoOrphan(ctx, q, secretID)
}

// reapIfAutodelete deletes an autodelete group once its last binding is
// gone; ACL edges cascade with the group row.
func (s *Service) reapIfAutodelete(ctx context.Context, q repository.Querier, groupID int64) error {
	grp, err := s.store.GetGroup(ctx, q, groupID)
	if err != nil {
		return err
	}
	if grp.Kind != models.GroupAutoDelete {
		return nil
	}
	left, err := s.store.ListBindingsByGroup(ctx, q, groupID)
	if err != nil {
		return err
	}
	if len(left) == 0 {
		return s.store.DeleteGroup(ctx, q, groupID)
	}
	return nil
}
