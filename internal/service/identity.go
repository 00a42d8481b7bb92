package service

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
	"github.com/ndanilin/vaultgraph/internal/txn"
)

// RegisterRequest creates a new identity. The key material arrives already
// encrypted; the server never sees plaintext keys.
type RegisterRequest struct {
	Name                string
	Password            string
	PublicKey           []byte
	EncryptedPrivateKey []byte
	// PrivateGroupKey is the new private group's public key.
	PrivateGroupKey []byte
	// EncryptedGroupKey is the private group's key encrypted for the
	// identity's public key, stored on the bootstrap ACL edge.
	EncryptedGroupKey []byte
	Referrer          string
	SourceIP          string
	DeviceID          string
}

// RegisterIdentity creates the identity together with its private group and
// the Admin edge binding the two, in one transaction.
func (s *VaultService) RegisterIdentity(ctx context.Context, req RegisterRequest) (*models.Identity, error) {
	if req.Name == "" || req.Password == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "name and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "hash password", err)
	}

	var ident *models.Identity
	err = s.coordRunImplicit(ctx, func(q repository.Querier) error {
		if existing, err := s.store.GetIdentityByName(ctx, q, req.Name); err == nil && existing != nil {
			return apperr.New(apperr.KindInvalidRequest, "name already taken")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		id, err := s.store.CreateIdentity(ctx, q, models.Identity{
			Name:                req.Name,
			PasswordHash:        hash,
			PublicKey:           req.PublicKey,
			EncryptedPrivateKey: req.EncryptedPrivateKey,
			Verified:            s.defaultVerified,
			Referrer:            req.Referrer,
		})
		if err != nil {
			return err
		}

		groupID, err := s.store.CreateGroup(ctx, q, models.Group{
			Kind:      models.GroupPrivate,
			PublicKey: req.PrivateGroupKey,
		})
		if err != nil {
			return err
		}
		if _, err := s.store.CreateACLEntry(ctx, q, models.ACLEntry{
			GroupID:           groupID,
			Member:            models.IdentityMember(id),
			Level:             models.AccessAdmin,
			EncryptedGroupKey: req.EncryptedGroupKey,
		}); err != nil {
			return err
		}

		ident, err = s.store.GetIdentity(ctx, q, id)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, q, models.AuditEvent{
			ActorID:    id,
			IdentityID: id,
			Action:     models.ActionIdentityCreated,
			SourceIP:   req.SourceIP,
			DeviceID:   req.DeviceID,
		})
	})
	s.observe("register_identity", err)
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// Login verifies the credentials and returns the identity. Token issuance
// is the transport layer's concern.
func (s *VaultService) Login(ctx context.Context, name, password, sourceIP, deviceID string) (*models.Identity, error) {
	var ident *models.Identity
	err := s.coordRunImplicit(ctx, func(q repository.Querier) error {
		found, err := s.store.GetIdentityByName(ctx, q, name)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.KindPermissionDenied, "denied")
		}
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword(found.PasswordHash, []byte(password)) != nil {
			return apperr.New(apperr.KindPermissionDenied, "denied")
		}
		ident = found
		return s.audit.Record(ctx, q, models.AuditEvent{
			ActorID:    found.ID,
			IdentityID: found.ID,
			Action:     models.ActionIdentityLogin,
			SourceIP:   sourceIP,
			DeviceID:   deviceID,
		})
	})
	s.observe("login", err)
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// VerifyIdentity flips the actor's verification flag after an external
// email round-trip has succeeded.
func (s *VaultService) VerifyIdentity(ctx context.Context, meta RequestMeta) error {
	if err := s.admit(ctx, meta, false); err != nil {
		return err
	}
	err := s.run(ctx, meta, func(q repository.Querier) error {
		if err := s.store.SetIdentityVerified(ctx, q, meta.Actor.ID, true); err != nil {
			return err
		}
		ev := s.event(meta, models.ActionIdentityVerified)
		ev.IdentityID = meta.Actor.ID
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("verify_identity", err)
	return err
}

// CreateGroupRequest creates a named team, an autodelete container, or a
// top-level organization. The actor receives the Admin edge.
type CreateGroupRequest struct {
	Name              string
	Kind              models.GroupKind
	PublicKey         []byte
	EncryptedGroupKey []byte
}

// CreateGroup creates the group and its bootstrap Admin edge for the actor.
func (s *VaultService) CreateGroup(ctx context.Context, meta RequestMeta, req CreateGroupRequest) (int64, error) {
	if err := s.admit(ctx, meta, false); err != nil {
		return 0, err
	}
	if !req.Kind.Valid() || req.Kind == models.GroupPrivate {
		return 0, apperr.Newf(apperr.KindInvalidRequest, "invalid group kind %q", req.Kind)
	}

	var groupID int64
	err := s.run(ctx, meta, func(q repository.Querier) error {
		var err error
		groupID, err = s.store.CreateGroup(ctx, q, models.Group{
			Name:      req.Name,
			Kind:      req.Kind,
			PublicKey: req.PublicKey,
		})
		if err != nil {
			return err
		}
		if _, err := s.store.CreateACLEntry(ctx, q, models.ACLEntry{
			GroupID:           groupID,
			Member:            models.IdentityMember(meta.Actor.ID),
			Level:             models.AccessAdmin,
			EncryptedGroupKey: req.EncryptedGroupKey,
		}); err != nil {
			return err
		}
		ev := s.event(meta, models.ActionGroupCreated)
		ev.GroupID = groupID
		return s.audit.Record(ctx, q, ev)
	})
	s.observe("create_group", err)
	if err != nil {
		return 0, err
	}
	return groupID, nil
}

// coordRunImplicit is run for unauthenticated entry points (no actor, so no
// explicit token to honor), still replayed in full on retryable conflicts.
func (s *VaultService) coordRunImplicit(ctx context.Context, fn func(q repository.Querier) error) error {
	return txn.Retry(ctx, implicitRetries, func() error {
		return s.coord.RunImplicit(ctx, func(tx *sql.Tx) error {
			return fn(tx)
		})
	})
}
