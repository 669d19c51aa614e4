package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"streamvault/internal/models"
)

func newTestSession(id string, createdAt int64) *models.PaymentSession {
	return &models.PaymentSession{
		ID:        id,
		PlanID:    "ouro",
		Status:    models.SessionStatusPending,
		PixCode:   "000201pix",
		Amount:    1990,
		CreatedAt: createdAt,
		Metadata: models.SessionMetadata{
			GatewayPaymentCode: "pay-" + id,
			ExternalCode:       "ext-" + id,
			EventID:            "evt-" + id,
			UTMs:               map[string]string{"utm_source": "fb"},
		},
	}
}

func TestMemorySessionStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0, zap.NewNop())
	defer store.Close()

	if err := store.Create(ctx, newTestSession("s1", 1000)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.PlanID != "ouro" || got.Amount != 1990 || got.Status != models.SessionStatusPending {
		t.Errorf("Get() = %+v", got)
	}

	got.Metadata.UTMs["utm_source"] = "mutated"
	again, _ := store.Get(ctx, "s1")
	if again.Metadata.UTMs["utm_source"] != "fb" {
		t.Error("caller mutation leaked into the store")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestMemorySessionStore_FindBySecondaryCode(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0, zap.NewNop())
	defer store.Close()
	_ = store.Create(ctx, newTestSession("s1", 1000))

	tests := []struct {
		name    string
		code    string
		wantID  string
		wantErr error
	}{
		{"gateway payment code", "pay-s1", "s1", nil},
		{"external code", "ext-s1", "s1", nil},
		{"unknown code", "pay-zzz", "", ErrSessionNotFound},
		{"empty code", "", "", ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindBySecondaryCode(ctx, tt.code)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FindBySecondaryCode() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.ID != tt.wantID {
				t.Errorf("FindBySecondaryCode() id = %s, want %s", got.ID, tt.wantID)
			}
		})
	}
}

func TestMemorySessionStore_CreateOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0, zap.NewNop())
	defer store.Close()

	first := newTestSession("s1", 1000)
	_ = store.Create(ctx, first)

	second := newTestSession("s1", 2000)
	second.Metadata.GatewayPaymentCode = "pay-new"
	second.Metadata.ExternalCode = "ext-new"
	_ = store.Create(ctx, second)

	got, _ := store.Get(ctx, "s1")
	if got.CreatedAt != 2000 {
		t.Errorf("CreatedAt = %d, want last write", got.CreatedAt)
	}
	if _, err := store.FindBySecondaryCode(ctx, "pay-s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("stale code index survived overwrite")
	}
	if _, err := store.FindBySecondaryCode(ctx, "pay-new"); err != nil {
		t.Errorf("new code not indexed: %v", err)
	}
}

func TestMemorySessionStore_Update(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0, zap.NewNop())
	defer store.Close()
	_ = store.Create(ctx, newTestSession("s1", 1000))

	updated, err := store.Update(ctx, "s1", models.MarkPaid(time.UnixMilli(5000)))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != models.SessionStatusPaid || updated.PaidAt == nil || *updated.PaidAt != 5000 {
		t.Errorf("Update() = %+v", updated)
	}

	again, err := store.Update(ctx, "s1", models.MarkPaid(time.UnixMilli(9000)))
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("second Update() error = %v, want ErrAlreadyPaid", err)
	}
	if *again.PaidAt != 5000 {
		t.Errorf("PaidAt changed on replay: %d", *again.PaidAt)
	}

	if _, err := store.Update(ctx, "missing", models.MarkError()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestMemorySessionStore_ConcurrentUpdateTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0, zap.NewNop())
	defer store.Close()
	_ = store.Create(ctx, newTestSession("s1", 1000))

	const workers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "s1", models.MarkPaid(time.Now()))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyPaid) {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("transitions = %d, want 1", succeeded)
	}
}

func TestMemorySessionStore_ListPendingAndEvict(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(0, zap.NewNop())
	defer store.Close()

	_ = store.Create(ctx, newTestSession("old", 1000))
	_ = store.Create(ctx, newTestSession("new", 9000))
	paid := newTestSession("paid", 1000)
	_ = store.Create(ctx, paid)
	_, _ = store.Update(ctx, "paid", models.MarkPaid(time.UnixMilli(2000)))

	pending, err := store.ListPendingBefore(ctx, 5000)
	if err != nil {
		t.Fatalf("ListPendingBefore() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "old" {
		t.Errorf("ListPendingBefore() = %v, want [old]", pending)
	}

	if n := store.EvictOlderThan(5000); n != 2 {
		t.Errorf("EvictOlderThan() = %d, want 2", n)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
	if _, err := store.FindBySecondaryCode(ctx, "pay-old"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("evicted session still reachable by code")
	}
}
