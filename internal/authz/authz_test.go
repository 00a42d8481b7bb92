package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/graph"
	"github.com/ndanilin/vaultgraph/internal/graphtest"
	"github.com/ndanilin/vaultgraph/internal/models"
)

func newGate(store *graphtest.MemStore) *Gate {
	return NewGate(graph.NewResolver(store), store)
}

func TestAuthorizeSecretLevels(t *testing.T) {
	store := graphtest.NewMemStore()
	gate := newGate(store)
	ctx := context.Background()

	team := store.AddGroup("team", models.GroupNamedTeam)
	reader := store.AddIdentity("reader", true)
	store.AddEdge(team.ID, models.IdentityMember(reader.ID), models.AccessReadOnly)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	secret := store.AddSecret(owner.ID)
	store.Bind(team.ID, secret.ID)
	// A second member keeps the group from counting as the reader's
	// private container.

	d, err := gate.AuthorizeSecret(ctx, nil, &reader, OpReadSecret, secret.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if !d.Permitted || d.Level != models.AccessReadOnly {
		t.Errorf("read decision = %+v; want permitted at readonly", d)
	}

	d, err = gate.AuthorizeSecret(ctx, nil, &reader, OpEditSecret, secret.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if d.Permitted || d.Reason != ReasonInsufficientLevel {
		t.Errorf("edit decision = %+v; want denial for insufficient level", d)
	}

	d, err = gate.AuthorizeSecret(ctx, nil, &owner, OpShareSecret, secret.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if !d.Permitted {
		t.Errorf("admin share decision = %+v; want permitted", d)
	}
}

func TestAuthorizeSecretNotAMember(t *testing.T) {
	store := graphtest.NewMemStore()
	gate := newGate(store)

	team := store.AddGroup("team", models.GroupNamedTeam)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	secret := store.AddSecret(owner.ID)
	store.Bind(team.ID, secret.ID)

	stranger := store.AddIdentity("stranger", true)
	d, err := gate.AuthorizeSecret(context.Background(), nil, &stranger, OpReadSecret, secret.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if d.Permitted || d.Reason != ReasonNotAMember {
		t.Errorf("decision = %+v; want denial for non-member", d)
	}
}

func TestUnverifiedReadRestriction(t *testing.T) {
	store := graphtest.NewMemStore()
	gate := newGate(store)
	ctx := context.Background()

	// Private, unshared secret: readable even while unverified.
	private := store.AddGroup("", models.GroupPrivate)
	novice := store.AddIdentity("novice", false)
	store.AddEdge(private.ID, models.IdentityMember(novice.ID), models.AccessAdmin)
	own := store.AddSecret(novice.ID)
	store.Bind(private.ID, own.ID)

	d, err := gate.AuthorizeSecret(ctx, nil, &novice, OpReadSecret, own.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if !d.Permitted {
		t.Errorf("decision = %+v; unverified user should read their own unshared secret", d)
	}

	// The same secret shared with a second member is off limits.
	team := store.AddGroup("team", models.GroupNamedTeam)
	other := store.AddIdentity("other", true)
	store.AddEdge(team.ID, models.IdentityMember(novice.ID), models.AccessAdmin)
	store.AddEdge(team.ID, models.IdentityMember(other.ID), models.AccessReadOnly)
	shared := store.AddSecret(other.ID)
	store.Bind(team.ID, shared.ID)

	d, err = gate.AuthorizeSecret(ctx, nil, &novice, OpReadSecret, shared.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if d.Permitted || d.Reason != ReasonUnverifiedUserRestricted {
		t.Errorf("decision = %+v; want unverified_user_restricted", d)
	}

	// Verification lifts the restriction; writes were never restricted.
	verified := novice
	verified.Verified = true
	d, err = gate.AuthorizeSecret(ctx, nil, &verified, OpReadSecret, shared.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if !d.Permitted {
		t.Errorf("decision = %+v; verified user should read the shared secret", d)
	}
	d, err = gate.AuthorizeSecret(ctx, nil, &novice, OpEditSecret, shared.ID)
	if err != nil {
		t.Fatalf("AuthorizeSecret returned error: %v", err)
	}
	if !d.Permitted {
		t.Errorf("decision = %+v; the restriction applies to reads only", d)
	}
}

func TestAuthorizeGroupOrganizationBypass(t *testing.T) {
	store := graphtest.NewMemStore()
	gate := newGate(store)
	ctx := context.Background()

	org := store.AddGroup("org", models.GroupOrganization)
	team := store.AddGroup("team", models.GroupNamedTeam)
	someone := store.AddIdentity("someone", true)

	// Organizations accept new secrets regardless of the actor's edges.
	d, err := gate.AuthorizeGroup(ctx, nil, &someone, OpCreateSecretInGroup, org.ID)
	if err != nil {
		t.Fatalf("AuthorizeGroup returned error: %v", err)
	}
	if !d.Permitted {
		t.Errorf("decision = %+v; organizations accept secrets directly", d)
	}

	// Ordinary groups still require Admin.
	d, err = gate.AuthorizeGroup(ctx, nil, &someone, OpCreateSecretInGroup, team.ID)
	if err != nil {
		t.Fatalf("AuthorizeGroup returned error: %v", err)
	}
	if d.Permitted {
		t.Errorf("decision = %+v; non-member must not seed secrets into a team", d)
	}
}

func TestAuthorizeGroupMembershipNeedsAdmin(t *testing.T) {
	store := graphtest.NewMemStore()
	gate := newGate(store)
	ctx := context.Background()

	team := store.AddGroup("team", models.GroupNamedTeam)
	editor := store.AddIdentity("editor", true)
	store.AddEdge(team.ID, models.IdentityMember(editor.ID), models.AccessModifySecrets)

	d, err := gate.AuthorizeGroup(ctx, nil, &editor, OpEditMembership, team.ID)
	if err != nil {
		t.Fatalf("AuthorizeGroup returned error: %v", err)
	}
	if d.Permitted || d.Reason != ReasonInsufficientLevel {
		t.Errorf("decision = %+v; modify_secrets must not edit membership", d)
	}

	d, err = gate.AuthorizeGroup(ctx, nil, &editor, OpEditGroupSecrets, team.ID)
	if err != nil {
		t.Fatalf("AuthorizeGroup returned error: %v", err)
	}
	if !d.Permitted {
		t.Errorf("decision = %+v; modify_secrets may edit non-membership ACL fields", d)
	}
}

func TestDecisionErr(t *testing.T) {
	if err := Permit(models.AccessAdmin).Err(); err != nil {
		t.Errorf("permit should produce no error; got %v", err)
	}

	err := Deny(ReasonNotAMember).Err()
	if !apperr.IsKind(err, apperr.KindPermissionDenied) {
		t.Errorf("denial error = %v; want permission_denied", err)
	}

	err = Deny(ReasonRateLimited).Err()
	if !apperr.IsKind(err, apperr.KindRateLimited) {
		t.Errorf("rate limit error = %v; want rate_limited", err)
	}
}

func TestReasonOf(t *testing.T) {
	for _, reason := range []DenyReason{
		ReasonNotAMember, ReasonInsufficientLevel,
		ReasonUnverifiedUserRestricted, ReasonRateLimited,
	} {
		if got := ReasonOf(Deny(reason).Err()); got != reason {
			t.Errorf("ReasonOf(Deny(%s).Err()) = %s", reason, got)
		}
	}
	if got := ReasonOf(errors.New("plain")); got != ReasonNone {
		t.Errorf("ReasonOf(plain error) = %s; want none", got)
	}
	if got := ReasonOf(apperr.New(apperr.KindPermissionDenied, "denied")); got != ReasonNone {
		t.Errorf("ReasonOf(codeless denial) = %s; want none", got)
	}
}
