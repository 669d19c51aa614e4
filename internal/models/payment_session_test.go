package models

import (
	"errors"
	"testing"
	"time"
)

func int64Ptr(v int64) *int64 { return &v }

func TestSessionPatchApply(t *testing.T) {
	tests := []struct {
		name       string
		status     SessionStatus
		patch      SessionPatch
		wantErr    error
		wantStatus SessionStatus
		wantPaidAt bool
	}{
		{
			name:       "pending to paid",
			status:     SessionStatusPending,
			patch:      SessionPatch{Status: SessionStatusPaid, PaidAt: int64Ptr(2000)},
			wantStatus: SessionStatusPaid,
			wantPaidAt: true,
		},
		{
			name:       "pending to error",
			status:     SessionStatusPending,
			patch:      MarkError(),
			wantStatus: SessionStatusError,
		},
		{
			name:       "paid again",
			status:     SessionStatusPaid,
			patch:      SessionPatch{Status: SessionStatusPaid, PaidAt: int64Ptr(3000)},
			wantErr:    ErrAlreadyPaid,
			wantStatus: SessionStatusPaid,
			wantPaidAt: true,
		},
		{
			name:       "paid to error",
			status:     SessionStatusPaid,
			patch:      MarkError(),
			wantErr:    ErrInvalidTransition,
			wantStatus: SessionStatusPaid,
			wantPaidAt: true,
		},
		{
			name:       "error to paid",
			status:     SessionStatusError,
			patch:      SessionPatch{Status: SessionStatusPaid, PaidAt: int64Ptr(2000)},
			wantErr:    ErrInvalidTransition,
			wantStatus: SessionStatusError,
		},
		{
			name:       "paid without timestamp",
			status:     SessionStatusPending,
			patch:      SessionPatch{Status: SessionStatusPaid},
			wantErr:    ErrInvalidTransition,
			wantStatus: SessionStatusPending,
		},
		{
			name:       "empty patch",
			status:     SessionStatusPending,
			patch:      SessionPatch{},
			wantStatus: SessionStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &PaymentSession{ID: "s1", Status: tt.status, CreatedAt: 1000}
			if tt.status == SessionStatusPaid {
				s.PaidAt = int64Ptr(1500)
			}

			err := tt.patch.Apply(s)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
			}
			if s.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", s.Status, tt.wantStatus)
			}
			if (s.PaidAt != nil) != tt.wantPaidAt {
				t.Errorf("PaidAt set = %v, want %v", s.PaidAt != nil, tt.wantPaidAt)
			}
		})
	}
}

func TestMarkPaidNeverPrecedesCreation(t *testing.T) {
	s := &PaymentSession{ID: "s1", Status: SessionStatusPending, CreatedAt: time.Now().Add(time.Hour).UnixMilli()}

	if err := MarkPaid(time.Now()).Apply(s); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if *s.PaidAt < s.CreatedAt {
		t.Errorf("PaidAt %d precedes CreatedAt %d", *s.PaidAt, s.CreatedAt)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := &PaymentSession{
		ID:     "s1",
		PaidAt: int64Ptr(1),
		Metadata: SessionMetadata{
			Customer: &Customer{Email: "a@b.c"},
			UTMs:     map[string]string{"utm_source": "fb"},
		},
	}

	c := s.Clone()
	*c.PaidAt = 2
	c.Metadata.Customer.Email = "x@y.z"
	c.Metadata.UTMs["utm_source"] = "google"

	if *s.PaidAt != 1 || s.Metadata.Customer.Email != "a@b.c" || s.Metadata.UTMs["utm_source"] != "fb" {
		t.Error("Clone shares state with the original")
	}
}

func TestSessionCodes(t *testing.T) {
	s := &PaymentSession{ID: "session_1", Metadata: SessionMetadata{EventID: "evt_1", ExternalCode: "ext-1"}}

	if got := s.PurchaseEventID(); got != "purchase_evt_1" {
		t.Errorf("PurchaseEventID() = %q", got)
	}
	if got := s.OrderCode(); got != "ext-1" {
		t.Errorf("OrderCode() = %q, want external code fallback", got)
	}
	s.Metadata.GatewayPaymentCode = "pay-1"
	if got := s.OrderCode(); got != "pay-1" {
		t.Errorf("OrderCode() = %q, want gateway code", got)
	}
	if !s.MatchesCode("ext-1") || !s.MatchesCode("pay-1") || s.MatchesCode("") || s.MatchesCode("other") {
		t.Error("MatchesCode mismatch")
	}
}
