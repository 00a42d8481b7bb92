package sharing

import (
	"context"
	"testing"

	"github.com/ndanilin/vaultgraph/internal/apperr"
	"github.com/ndanilin/vaultgraph/internal/authz"
	"github.com/ndanilin/vaultgraph/internal/graph"
	"github.com/ndanilin/vaultgraph/internal/graphtest"
	"github.com/ndanilin/vaultgraph/internal/models"
)

func newTestService(store *graphtest.MemStore) *Service {
	resolver := graph.NewResolver(store)
	return NewService(store, resolver, authz.NewGate(resolver, store))
}

func TestAddNewSecret(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)

	team := store.AddGroup("team", models.GroupNamedTeam)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)

	secretID, err := svc.AddSecretToGroup(context.Background(), nil, AddSecretRequest{
		Actor:           &owner,
		GroupID:         team.ID,
		ClientPayload:   []byte("client"),
		CriticalPayload: []byte("critical"),
		Viewable:        true,
	})
	if err != nil {
		t.Fatalf("AddSecretToGroup returned error: %v", err)
	}

	secret, err := store.GetSecret(context.Background(), nil, secretID)
	if err != nil {
		t.Fatalf("created secret missing: %v", err)
	}
	if secret.KingID != owner.ID {
		t.Errorf("secret creator = %d; want %d", secret.KingID, owner.ID)
	}
	if _, err := store.GetBinding(context.Background(), nil, team.ID, secretID); err != nil {
		t.Errorf("binding missing: %v", err)
	}
}

func TestAddNewSecretRequiresAdmin(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)

	team := store.AddGroup("team", models.GroupNamedTeam)
	editor := store.AddIdentity("editor", true)
	store.AddEdge(team.ID, models.IdentityMember(editor.ID), models.AccessModifySecrets)

	_, err := svc.AddSecretToGroup(context.Background(), nil, AddSecretRequest{
		Actor:   &editor,
		GroupID: team.ID,
	})
	if !apperr.IsKind(err, apperr.KindPermissionDenied) {
		t.Errorf("got %v; want permission_denied", err)
	}
}

func TestAddSecretUnknownGroup(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)
	actor := store.AddIdentity("actor", true)

	_, err := svc.AddSecretToGroup(context.Background(), nil, AddSecretRequest{
		Actor:   &actor,
		GroupID: 999,
	})
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("got %v; want not_found", err)
	}
}

func TestShareDuplicateBinding(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)

	team := store.AddGroup("team", models.GroupNamedTeam)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	secret := store.AddSecret(owner.ID)
	store.Bind(team.ID, secret.ID)

	_, err := svc.AddSecretToGroup(context.Background(), nil, AddSecretRequest{
		Actor:    &owner,
		SecretID: secret.ID,
		GroupID:  team.ID,
	})
	if !apperr.IsKind(err, apperr.KindDuplicateBinding) {
		t.Errorf("got %v; want duplicate_binding", err)
	}
}

func TestShareAcrossOrganizationsRejected(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)

	orgA := store.AddGroup("org-a", models.GroupOrganization)
	orgB := store.AddGroup("org-b", models.GroupOrganization)
	teamA := store.AddGroup("team-a", models.GroupNamedTeam)
	teamB := store.AddGroup("team-b", models.GroupNamedTeam)
	store.AddEdge(orgA.ID, models.GroupMember(teamA.ID), models.AccessReadOnly)
	store.AddEdge(orgB.ID, models.GroupMember(teamB.ID), models.AccessReadOnly)

	owner := store.AddIdentity("owner", true)
	store.AddEdge(teamA.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	store.AddEdge(teamB.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	secret := store.AddSecret(owner.ID)
	store.Bind(teamA.ID, secret.ID)

	_, err := svc.AddSecretToGroup(context.Background(), nil, AddSecretRequest{
		Actor:    &owner,
		SecretID: secret.ID,
		GroupID:  teamB.ID,
	})
	if !apperr.IsKind(err, apperr.KindMultiOrganization) {
		t.Errorf("got %v; want multi_organization", err)
	}
}

func TestRemoveFromOrganizationRejected(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)

	org := store.AddGroup("org", models.GroupOrganization)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(org.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	secret := store.AddSecret(owner.ID)
	store.Bind(org.ID, secret.ID)

	err := svc.RemoveSecretFromGroup(context.Background(), nil, &owner, secret.ID, &org.ID)
	if !apperr.IsKind(err, apperr.KindInvalidRequest) {
		t.Errorf("got %v; want invalid_request", err)
	}
}

func TestRemoveLastBindingDeletesSecret(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	team := store.AddGroup("team", models.GroupNamedTeam)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	secret := store.AddSecret(owner.ID)
	store.Bind(team.ID, secret.ID)

	if err := svc.RemoveSecretFromGroup(ctx, nil, &owner, secret.ID, &team.ID); err != nil {
		t.Fatalf("RemoveSecretFromGroup returned error: %v", err)
	}
	if _, err := store.GetSecret(ctx, nil, secret.ID); err == nil {
		t.Error("secret should be deleted with its last binding")
	}
}

func TestRemoveReapsAutodeleteGroup(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	adhoc := store.AddGroup("", models.GroupAutoDelete)
	team := store.AddGroup("team", models.GroupNamedTeam)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(adhoc.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)

	secret := store.AddSecret(owner.ID)
	store.Bind(adhoc.ID, secret.ID)
	store.Bind(team.ID, secret.ID)

	if err := svc.RemoveSecretFromGroup(ctx, nil, &owner, secret.ID, &adhoc.ID); err != nil {
		t.Fatalf("RemoveSecretFromGroup returned error: %v", err)
	}
	if _, err := store.GetGroup(ctx, nil, adhoc.ID); err == nil {
		t.Error("emptied autodelete group should be reaped")
	}
	if _, err := store.GetGroup(ctx, nil, team.ID); err != nil {
		t.Errorf("named team must survive: %v", err)
	}
	if _, err := store.GetSecret(ctx, nil, secret.ID); err != nil {
		t.Errorf("secret still has a binding and must survive: %v", err)
	}
}

func TestRemoveFromAllSkipsOrganizations(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	org := store.AddGroup("org", models.GroupOrganization)
	team := store.AddGroup("team", models.GroupNamedTeam)
	store.AddEdge(org.ID, models.GroupMember(team.ID), models.AccessReadOnly)
	owner := store.AddIdentity("owner", true)
	boss := store.AddIdentity("boss", true)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	store.AddEdge(org.ID, models.IdentityMember(boss.ID), models.AccessAdmin)

	secret := store.AddSecret(owner.ID)
	store.Bind(team.ID, secret.ID)
	store.Bind(org.ID, secret.ID)

	if err := svc.RemoveSecretFromGroup(ctx, nil, &owner, secret.ID, nil); err != nil {
		t.Fatalf("RemoveSecretFromGroup returned error: %v", err)
	}

	bindings, err := store.ListBindingsBySecret(ctx, nil, secret.ID)
	if err != nil {
		t.Fatalf("ListBindingsBySecret returned error: %v", err)
	}
	if len(bindings) != 1 || bindings[0].GroupID != org.ID {
		t.Errorf("bindings after remove-all = %+v; only the organization binding should remain", bindings)
	}
}

func TestRemoveNoMatchingBinding(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)

	team := store.AddGroup("team", models.GroupNamedTeam)
	other := store.AddGroup("other", models.GroupNamedTeam)
	owner := store.AddIdentity("owner", true)
	store.AddEdge(team.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	secret := store.AddSecret(owner.ID)
	store.Bind(team.ID, secret.ID)

	err := svc.RemoveSecretFromGroup(context.Background(), nil, &owner, secret.ID, &other.ID)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("got %v; want not_found", err)
	}
}

func TestRemoveWouldOrphanSecret(t *testing.T) {
	store := graphtest.NewMemStore()
	svc := newTestService(store)

	admins := store.AddGroup("admins", models.GroupNamedTeam)
	readers := store.AddGroup("readers", models.GroupNamedTeam)
	owner := store.AddIdentity("owner", true)
	reader := store.AddIdentity("reader", true)
	store.AddEdge(admins.ID, models.IdentityMember(owner.ID), models.AccessAdmin)
	store.AddEdge(readers.ID, models.IdentityMember(reader.ID), models.AccessReadOnly)

	secret := store.AddSecret(owner.ID)
	store.Bind(admins.ID, secret.ID)
	store.Bind(readers.ID, secret.ID)

	// Dropping the admins binding leaves only readonly reach.
	err := svc.RemoveSecretFromGroup(context.Background(), nil, &owner, secret.ID, &admins.ID)
	if !apperr.IsKind(err, apperr.KindOrphanedSecret) {
		t.Errorf("got %v; want orphaned_secret", err)
	}
}
