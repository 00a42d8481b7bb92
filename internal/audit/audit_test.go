package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ndanilin/vaultgraph/internal/models"
	"github.com/ndanilin/vaultgraph/internal/repository"
)

type mockAuditStore struct {
	InsertFunc func(ctx context.Context, q repository.Querier, event models.AuditEvent) error
	EventsFunc func(ctx context.Context, q repository.Querier, filter repository.EventFilter) ([]models.AuditEvent, error)
}

func (m *mockAuditStore) Insert(ctx context.Context, q repository.Querier, event models.AuditEvent) error {
	return m.InsertFunc(ctx, q, event)
}
func (m *mockAuditStore) Events(ctx context.Context, q repository.Querier, filter repository.EventFilter) ([]models.AuditEvent, error) {
	return m.EventsFunc(ctx, q, filter)
}

func TestRecordStampsTime(t *testing.T) {
	var got models.AuditEvent
	store := &mockAuditStore{
		InsertFunc: func(ctx context.Context, q repository.Querier, event models.AuditEvent) error {
			got = event
			return nil
		},
	}
	rec := NewRecorder(store, zap.NewNop())

	before := time.Now()
	err := rec.Record(context.Background(), nil, models.AuditEvent{
		ActorID: 1,
		Action:  models.ActionSecretRead,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if got.At.Before(before) {
		t.Errorf("At = %v; should be stamped at record time", got.At)
	}
}

func TestRecordKeepsExplicitTime(t *testing.T) {
	var got models.AuditEvent
	store := &mockAuditStore{
		InsertFunc: func(ctx context.Context, q repository.Querier, event models.AuditEvent) error {
			got = event
			return nil
		},
	}
	rec := NewRecorder(store, zap.NewNop())

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	if err := rec.Record(context.Background(), nil, models.AuditEvent{
		ActorID: 1,
		Action:  models.ActionSecretRead,
		At:      at,
	}); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if !got.At.Equal(at) {
		t.Errorf("At = %v; want the caller's timestamp %v", got.At, at)
	}
}

func TestRecordPropagatesFailure(t *testing.T) {
	wantErr := errors.New("audit store down")
	store := &mockAuditStore{
		InsertFunc: func(ctx context.Context, q repository.Querier, event models.AuditEvent) error {
			return wantErr
		},
	}
	rec := NewRecorder(store, zap.NewNop())

	// The caller's transaction must fail with the audit write.
	err := rec.Record(context.Background(), nil, models.AuditEvent{
		ActorID: 1,
		Action:  models.ActionSecretEdited,
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v; want the store failure", err)
	}
}

func TestEventsPassthrough(t *testing.T) {
	want := []models.AuditEvent{{ID: 1, Action: models.ActionSecretRead}}
	store := &mockAuditStore{
		EventsFunc: func(ctx context.Context, q repository.Querier, filter repository.EventFilter) ([]models.AuditEvent, error) {
			if len(filter.SecretIDs) != 1 || filter.SecretIDs[0] != 5 {
				t.Errorf("filter = %+v; want secret id 5", filter)
			}
			return want, nil
		},
	}
	rec := NewRecorder(store, zap.NewNop())

	got, err := rec.Events(context.Background(), nil, repository.EventFilter{SecretIDs: []int64{5}})
	if err != nil {
		t.Fatalf("Events returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("events = %+v; want the store's result", got)
	}
}
