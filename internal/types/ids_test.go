// internal/types/ids_test.go
package types

import (
	"encoding/hex"
	"testing"
)

func TestNewThreadID(t *testing.T) {
	id := NewThreadID()
	if len(string(id)) != 32 {
		t.Errorf("expected 32 hex characters, got %s", id)
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		t.Errorf("expected hex encoding, got %s", id)
	}
	if NewThreadID() == id {
		t.Error("expected distinct thread IDs")
	}
}

func TestNewProjectID(t *testing.T) {
	id := NewProjectID()
	if len(string(id)) != 32 {
		t.Errorf("expected 32 hex characters, got %s", id)
	}
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestConversationKeyFormat(t *testing.T) {
	key := NewConversationKey("telegram", "123", "456")
	expected := ConversationKey("telegram:123:456")
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}
}
