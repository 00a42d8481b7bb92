package graph

import (
	"context"
	"testing"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/graphtest"
	"github.com/ndanilin/vaultgraph/internal/models"
)

func TestValidateEdge(t *testing.T) {
	good := models.ACLEntry{Member: models.IdentityMember(1), Level: models.AccessReadOnly}
	if err := ValidateEdge(good, ""); err != nil {
		t.Errorf("valid edge rejected: %v", err)
	}

	noMember := models.ACLEntry{Level: models.AccessAdmin}
	if err := ValidateEdge(noMember, ""); !apperr.IsKind(err, apperr.KindInvalidRequest) {
		t.Errorf("edge without member: got %v; want invalid_request", err)
	}

	badLevel := models.ACLEntry{Member: models.IdentityMember(1), Level: models.AccessNone}
	if err := ValidateEdge(badLevel, ""); !apperr.IsKind(err, apperr.KindInvalidRequest) {
		t.Errorf("edge with level none: got %v; want invalid_request", err)
	}

	orgMember := models.ACLEntry{Member: models.GroupMember(2), Level: models.AccessReadOnly}
	if err := ValidateEdge(orgMember, models.GroupOrganization); !apperr.IsKind(err, apperr.KindInvalidRequest) {
		t.Errorf("organization as member: got %v; want invalid_request", err)
	}
	if err := ValidateEdge(orgMember, models.GroupNamedTeam); err != nil {
		t.Errorf("named team as member rejected: %v", err)
	}
}

func TestWouldCreateCycleSelfEdge(t *testing.T) {
	store := graphtest.NewMemStore()
	r := NewResolver(store)
	g := store.AddGroup("g", models.GroupNamedTeam)

	err := r.WouldCreateCycle(context.Background(), nil, g.ID, g.ID)
	if !apperr.IsKind(err, apperr.KindCyclicGroup) {
		t.Errorf("self edge: got %v; want cyclic_group", err)
	}
}

func TestWouldCreateCycleChain(t *testing.T) {
	store := graphtest.NewMemStore()
	r := NewResolver(store)
	ctx := context.Background()

	a := store.AddGroup("a", models.GroupNamedTeam)
	b := store.AddGroup("b", models.GroupNamedTeam)
	c := store.AddGroup("c", models.GroupNamedTeam)
	// a holds b, b holds c.
	store.AddEdge(a.ID, models.GroupMember(b.ID), models.AccessReadOnly)
	store.AddEdge(b.ID, models.GroupMember(c.ID), models.AccessReadOnly)

	// c holding a would close the loop.
	err := r.WouldCreateCycle(ctx, nil, c.ID, a.ID)
	if !apperr.IsKind(err, apperr.KindCyclicGroup) {
		t.Errorf("closing edge: got %v; want cyclic_group", err)
	}

	// a holding c directly is a diamond, not a cycle.
	if err := r.WouldCreateCycle(ctx, nil, a.ID, c.ID); err != nil {
		t.Errorf("diamond edge rejected: %v", err)
	}

	fresh := store.AddGroup("fresh", models.GroupNamedTeam)
	if err := r.WouldCreateCycle(ctx, nil, a.ID, fresh.ID); err != nil {
		t.Errorf("edge to fresh group rejected: %v", err)
	}
}

func TestCheckNoOrphan(t *testing.T) {
	store := graphtest.NewMemStore()
	r := NewResolver(store)
	ctx := context.Background()

	team := store.AddGroup("team", models.GroupNamedTeam)
	reader := store.AddIdentity("reader", true)
	store.AddEdge(team.ID, models.IdentityMember(reader.ID), models.AccessReadOnly)
	secret := store.AddSecret(reader.ID)
	store.Bind(team.ID, secret.ID)

	err := r.CheckNoOrphan(ctx, nil, secret.ID)
	if !apperr.IsKind(err, apperr.KindOrphanedSecret) {
		t.Errorf("readonly-only secret: got %v; want orphaned_secret", err)
	}

	editor := store.AddIdentity("editor", true)
	store.AddEdge(team.ID, models.IdentityMember(editor.ID), models.AccessModifySecrets)
	if err := r.CheckNoOrphan(ctx, nil, secret.ID); err != nil {
		t.Errorf("secret with modify-capable member flagged: %v", err)
	}
}

func TestCheckNoOrphanBindinglessSecret(t *testing.T) {
	store := graphtest.NewMemStore()
	r := NewResolver(store)

	secret := store.AddSecret(1)
	// Zero bindings is the deletion path, not an orphan.
	if err := r.CheckNoOrphan(context.Background(), nil, secret.ID); err != nil {
		t.Errorf("bindingless secret flagged: %v", err)
	}
}

func TestCheckNoOrphanOrgAnchor(t *testing.T) {
	store := graphtest.NewMemStore()
	r := NewResolver(store)
	ctx := context.Background()

	org := store.AddGroup("org", models.GroupOrganization)
	team := store.AddGroup("team", models.GroupNamedTeam)
	reader := store.AddIdentity("reader", true)
	boss := store.AddIdentity("boss", true)
	store.AddEdge(org.ID, models.GroupMember(team.ID), models.AccessReadOnly)
	store.AddEdge(team.ID, models.IdentityMember(reader.ID), models.AccessReadOnly)
	store.AddEdge(org.ID, models.IdentityMember(boss.ID), models.AccessAdmin)

	secret := store.AddSecret(reader.ID)
	store.Bind(team.ID, secret.ID)

	// No admin-capable member inside the team, but the organization admin's
	// implicit Admin anchors the secret.
	if err := r.CheckNoOrphan(ctx, nil, secret.ID); err != nil {
		t.Errorf("org-anchored secret flagged: %v", err)
	}
}

func TestCheckSingleOrganization(t *testing.T) {
	store := graphtest.NewMemStore()
	r := NewResolver(store)
	ctx := context.Background()

	orgA := store.AddGroup("org-a", models.GroupOrganization)
	orgB := store.AddGroup("org-b", models.GroupOrganization)
	teamA := store.AddGroup("team-a", models.GroupNamedTeam)
	teamB := store.AddGroup("team-b", models.GroupNamedTeam)
	store.AddEdge(orgA.ID, models.GroupMember(teamA.ID), models.AccessReadOnly)
	store.AddEdge(orgB.ID, models.GroupMember(teamB.ID), models.AccessReadOnly)

	secret := store.AddSecret(1)
	store.Bind(teamA.ID, secret.ID)
	if err := r.CheckSingleOrganization(ctx, nil, secret.ID); err != nil {
		t.Errorf("single-org secret flagged: %v", err)
	}

	store.Bind(teamB.ID, secret.ID)
	err := r.CheckSingleOrganization(ctx, nil, secret.ID)
	if !apperr.IsKind(err, apperr.KindMultiOrganization) {
		t.Errorf("two-org secret: got %v; want multi_organization", err)
	}
}

func TestCheckSingleOrganizationNoOrgs(t *testing.T) {
	store := graphtest.NewMemStore()
	r := NewResolver(store)

	teamA := store.AddGroup("team-a", models.GroupNamedTeam)
	teamB := store.AddGroup("team-b", models.GroupNamedTeam)
	secret := store.AddSecret(1)
	store.Bind(teamA.ID, secret.ID)
	store.Bind(teamB.ID, secret.ID)

	// Orgless groups never conflict.
	if err := r.CheckSingleOrganization(context.Background(), nil, secret.ID); err != nil {
		t.Errorf("orgless secret flagged: %v", err)
	}
}
