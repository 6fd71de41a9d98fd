package auth

import (
	"testing"

	"spendtrack/internal/core"
)

func TestSessionAuthenticated(t *testing.T) {
	s := NewSession()
	if s.IsAuthenticated() {
		t.Fatal("fresh session should not be authenticated")
	}
	if s.CurrentUserID() != "" {
		t.Fatalf("expected empty user id, got %q", s.CurrentUserID())
	}

	s.Login(core.User{ID: "u1", Email: "a@b.c"}, "tok")
	if !s.IsAuthenticated() {
		t.Fatal("session should be authenticated after login")
	}
	if s.CurrentUserID() != "u1" || s.Token() != "tok" {
		t.Fatalf("unexpected identity: %q / %q", s.CurrentUserID(), s.Token())
	}

	s.Logout()
	if s.IsAuthenticated() {
		t.Fatal("session should not be authenticated after logout")
	}
	if s.CurrentUser() != nil {
		t.Fatal("expected nil user after logout")
	}
}

func TestSessionListeners(t *testing.T) {
	s := NewSession()
	var events []Event
	remove := s.OnChange(func(e Event) { events = append(events, e) })

	s.Login(core.User{ID: "u1"}, "tok")
	s.Logout()

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventLogin || events[0].User.ID != "u1" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != EventLogout {
		t.Fatalf("unexpected second event: %+v", events[1])
	}

	// Listener observes cleared session on logout.
	s.OnChange(func(e Event) {
		if e.Type == EventLogout && s.IsAuthenticated() {
			t.Error("session still authenticated inside logout listener")
		}
	})
	s.Login(core.User{ID: "u2"}, "tok2")
	s.Logout()

	remove()
	before := len(events)
	s.Login(core.User{ID: "u3"}, "tok3")
	if len(events) != before {
		t.Fatal("removed listener still invoked")
	}
}
