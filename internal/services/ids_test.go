package services

import (
	"regexp"
	"testing"
)

func TestDefaultIDGenerator(t *testing.T) {
	gen, err := NewIDGenerator(1)
	if err != nil {
		t.Fatalf("NewIDGenerator() error = %v", err)
	}

	sessionRe := regexp.MustCompile(`^session_\d{13}_[0-9a-f]{16}$`)
	eventRe := regexp.MustCompile(`^evt_\d{13}_[0-9a-f]{16}$`)

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		for _, id := range []string{gen.SessionID(), gen.EventID(), gen.ExternalCode()} {
			if seen[id] {
				t.Fatalf("duplicate id %s", id)
			}
			seen[id] = true
		}
	}

	if id := gen.SessionID(); !sessionRe.MatchString(id) {
		t.Errorf("SessionID() = %s", id)
	}
	if id := gen.EventID(); !eventRe.MatchString(id) {
		t.Errorf("EventID() = %s", id)
	}
}

func TestNewIDGenerator_InvalidNode(t *testing.T) {
	if _, err := NewIDGenerator(5000); err == nil {
		t.Error("expected error for node outside snowflake range")
	}
}
