package core

import (
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	before := time.Now().UTC()
	m := NewMessage(RoleAssistant, "hello")
	after := time.Now().UTC()

	if m.Role != RoleAssistant {
		t.Errorf("Role = %v, want %v", m.Role, RoleAssistant)
	}
	if m.Content != "hello" {
		t.Errorf("Content = %q, want %q", m.Content, "hello")
	}
	if m.Timestamp.Before(before) || m.Timestamp.After(after) {
		t.Errorf("Timestamp = %v, want within [%v, %v]", m.Timestamp, before, after)
	}
	if m.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", m.Timestamp.Location())
	}
}
