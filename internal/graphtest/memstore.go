// Package graphtest provides an in-memory implementation of the engine's
// store interfaces for tests: deterministic, transaction-free, and safe for
// concurrent use.
package graphtest

import (
	"context"
	"database/sql"
	"sync"

	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

// MemStore is an in-memory graph store. The Querier argument of every
// method is ignored; tests pass nil.
type MemStore struct {
	mu     sync.Mutex
	nextID int64

	Identities map[int64]models.Identity
	Groups     map[int64]models.Group
	Entries    map[int64]models.ACLEntry
	Secrets    map[int64]models.Secret
	Bindings   map[int64]models.GroupSecret
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		Identities: make(map[int64]models.Identity),
		Groups:     make(map[int64]models.Group),
		Entries:    make(map[int64]models.ACLEntry),
		Secrets:    make(map[int64]models.Secret),
		Bindings:   make(map[int64]models.GroupSecret),
	}
}

func (m *MemStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddIdentity inserts an identity directly, returning it.
func (m *MemStore) AddIdentity(name string, verified bool) models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident := models.Identity{ID: m.id(), Name: name, Verified: verified}
	m.Identities[ident.ID] = ident
	return ident
}

// AddGroup inserts a group directly, returning it.
func (m *MemStore) AddGroup(name string, kind models.GroupKind) models.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := models.Group{ID: m.id(), Name: name, Kind: kind}
	m.Groups[g.ID] = g
	return g
}

// AddEdge inserts an ACL edge directly, returning it.
func (m *MemStore) AddEdge(groupID int64, member models.Member, level models.AccessLevel) models.ACLEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := models.ACLEntry{ID: m.id(), GroupID: groupID, Member: member, Level: level, EncryptedGroupKey: []byte("k")}
	m.Entries[e.ID] = e
	return e
}

// AddSecret inserts a secret directly, returning it.
func (m *MemStore) AddSecret(kingID int64) models.Secret {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := models.Secret{ID: m.id(), KingID: kingID, Viewable: true}
	m.Secrets[s.ID] = s
	return s
}

// Bind inserts a group-secret binding directly, returning it.
func (m *MemStore) Bind(groupID, secretID int64) models.GroupSecret {
	m.mu.Lock()
	defer m.mu.Unlock()
	position := 1
	for _, b := range m.Bindings {
		if b.GroupID == groupID && b.Position >= position {
			position = b.Position + 1
		}
	}
	b := models.GroupSecret{
		ID: m.id(), GroupID: groupID, SecretID: secretID,
		ClientPayload: []byte("c"), CriticalPayload: []byte("x"),
		Version: 1, Position: position,
	}
	m.Bindings[b.ID] = b
	return b
}

// --- graph.Store ---

// GetGroup implements graph.Store.
func (m *MemStore) GetGroup(_ context.Context, _ repository.Querier, id int64) (*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.Groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &g, nil
}

// ListEntriesByGroup implements graph.Store.
func (m *MemStore) ListEntriesByGroup(_ context.Context, _ repository.Querier, groupID int64) ([]models.ACLEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ACLEntry
	for _, e := range m.Entries {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListEntriesForMember implements graph.Store.
func (m *MemStore) ListEntriesForMember(_ context.Context, _ repository.Querier, member models.Member) ([]models.ACLEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ACLEntry
	for _, e := range m.Entries {
		if e.Member == member {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListBindingsBySecret implements graph.Store.
func (m *MemStore) ListBindingsBySecret(_ context.Context, _ repository.Querier, secretID int64) ([]models.GroupSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GroupSecret
	for _, b := range m.Bindings {
		if b.SecretID == secretID {
			out = append(out, b)
		}
	}
	return out, nil
}

// --- sharing.Store ---

// GetSecret implements sharing.Store.
func (m *MemStore) GetSecret(_ context.Context, _ repository.Querier, id int64) (*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Secrets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

// CreateSecret implements sharing.Store.
func (m *MemStore) CreateSecret(_ context.Context, _ repository.Querier, secret models.Secret) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret.ID = m.id()
	m.Secrets[secret.ID] = secret
	return secret.ID, nil
}

// DeleteSecret implements sharing.Store.
func (m *MemStore) DeleteSecret(_ context.Context, _ repository.Querier, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Secrets[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.Secrets, id)
	for bid, b := range m.Bindings {
		if b.SecretID == id {
			delete(m.Bindings, bid)
		}
	}
	return nil
}

// GetBinding implements sharing.Store.
func (m *MemStore) GetBinding(_ context.Context, _ repository.Querier, groupID, secretID int64) (*models.GroupSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.Bindings {
		if b.GroupID == groupID && b.SecretID == secretID {
			return &b, nil
		}
	}
	return nil, sql.ErrNoRows
}

// CreateBinding implements sharing.Store.
func (m *MemStore) CreateBinding(_ context.Context, _ repository.Querier, b models.GroupSecret) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id()
	if b.Version == 0 {
		b.Version = 1
	}
	position := 1
	for _, existing := range m.Bindings {
		if existing.GroupID == b.GroupID && existing.Position >= position {
			position = existing.Position + 1
		}
	}
	b.Position = position
	m.Bindings[b.ID] = b
	return b.ID, nil
}

// DeleteBinding implements sharing.Store.
func (m *MemStore) DeleteBinding(_ context.Context, _ repository.Querier, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Bindings[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.Bindings, id)
	return nil
}

// ListBindingsByGroup implements sharing.Store.
func (m *MemStore) ListBindingsByGroup(_ context.Context, _ repository.Querier, groupID int64) ([]models.GroupSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GroupSecret
	for _, b := range m.Bindings {
		if b.GroupID == groupID {
			out = append(out, b)
		}
	}
	return out, nil
}

// UpdateBindingPayloads implements sharing.Store.
func (m *MemStore) UpdateBindingPayloads(_ context.Context, _ repository.Querier, bindingID int64, clientPayload, criticalPayload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Bindings[bindingID]
	if !ok {
		return sql.ErrNoRows
	}
	b.ClientPayload = clientPayload
	b.CriticalPayload = criticalPayload
	b.Version++
	m.Bindings[bindingID] = b
	return nil
}

// CreateACLEntry implements sharing.Store.
func (m *MemStore) CreateACLEntry(_ context.Context, _ repository.Querier, entry models.ACLEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	m.Entries[entry.ID] = entry
	return entry.ID, nil
}

// DeleteACLEntry implements sharing.Store.
func (m *MemStore) DeleteACLEntry(_ context.Context, _ repository.Querier, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Entries[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.Entries, id)
	return nil
}

// DeleteGroup implements sharing.Store.
func (m *MemStore) DeleteGroup(_ context.Context, _ repository.Querier, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Groups[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.Groups, id)
	for eid, e := range m.Entries {
		if e.GroupID == id || (e.Member.IsGroup() && e.Member.ID == id) {
			delete(m.Entries, eid)
		}
	}
	for bid, b := range m.Bindings {
		if b.GroupID == id {
			delete(m.Bindings, bid)
		}
	}
	return nil
}

// --- service.Store ---

// CreateIdentity implements service.Store.
func (m *MemStore) CreateIdentity(_ context.Context, _ repository.Querier, ident models.Identity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident.ID = m.id()
	m.Identities[ident.ID] = ident
	return ident.ID, nil
}

// GetIdentity implements service.Store.
func (m *MemStore) GetIdentity(_ context.Context, _ repository.Querier, id int64) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.Identities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &ident, nil
}

// GetIdentityByName implements service.Store.
func (m *MemStore) GetIdentityByName(_ context.Context, _ repository.Querier, name string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.Identities {
		if ident.Name == name {
			return &ident, nil
		}
	}
	return nil, sql.ErrNoRows
}

// SetIdentityVerified implements service.Store.
func (m *MemStore) SetIdentityVerified(_ context.Context, _ repository.Querier, id int64, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.Identities[id]
	if !ok {
		return sql.ErrNoRows
	}
	ident.Verified = verified
	m.Identities[id] = ident
	return nil
}

// CreateGroup implements service.Store.
func (m *MemStore) CreateGroup(_ context.Context, _ repository.Querier, group models.Group) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group.ID = m.id()
	m.Groups[group.ID] = group
	return group.ID, nil
}

// MemAudit is an in-memory audit sink for tests.
type MemAudit struct {
	mu      sync.Mutex
	Events_ []models.AuditEvent
	// FailNext makes the next Insert fail, for audit-coupling tests.
	FailNext error
}

// NewMemAudit creates an empty MemAudit.
func NewMemAudit() *MemAudit {
	return &MemAudit{}
}

// Insert implements audit.Store.
func (m *MemAudit) Insert(_ context.Context, _ repository.Querier, event models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	m.Events_ = append(m.Events_, event)
	return nil
}

// Events implements audit.Store, ignoring the filter's category subsets:
// repository tests cover that logic.
func (m *MemAudit) Events(_ context.Context, _ repository.Querier, _ repository.EventFilter) ([]models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEvent, len(m.Events_))
	copy(out, m.Events_)
	return out, nil
}

// Recorded returns the recorded events.
func (m *MemAudit) Recorded() []models.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEvent, len(m.Events_))
	copy(out, m.Events_)
	return out
}
