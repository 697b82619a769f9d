package models

import (
	"testing"
	"time"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID == "" {
		t.Fatal("expected base model ID to be generated")
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"user", func() *BaseModel {
			u := &User{}
			return &u.BaseModel
		}},
		{"session", func() *BaseModel {
			s := &Session{}
			return &s.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			if err := model.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if model.ID == "" {
				t.Fatal("expected ID to be generated")
			}
		})
	}
}

func TestUserHasPassword(t *testing.T) {
	var u *User
	if u.HasPassword() {
		t.Fatal("nil user must not report a password")
	}

	u = &User{}
	if u.HasPassword() {
		t.Fatal("user without hash must not report a password")
	}

	empty := ""
	u.PasswordHash = &empty
	if u.HasPassword() {
		t.Fatal("empty hash must not count as a password")
	}

	hash := "$2a$10$abcdefghijklmnopqrstuv"
	u.PasswordHash = &hash
	if !u.HasPassword() {
		t.Fatal("expected user with hash to report a password")
	}
}

func TestUserDisplayName(t *testing.T) {
	email := "gamer@example.com"

	u := &User{Name: "Alex"}
	if got := u.DisplayName(); got != "Alex" {
		t.Fatalf("expected explicit name, got %q", got)
	}

	u = &User{PersonaName: "xX_alex_Xx"}
	if got := u.DisplayName(); got != "xX_alex_Xx" {
		t.Fatalf("expected persona fallback, got %q", got)
	}

	u = &User{Email: &email}
	if got := u.DisplayName(); got != email {
		t.Fatalf("expected email fallback, got %q", got)
	}
}

func TestSessionActive(t *testing.T) {
	now := time.Now()

	s := &Session{ExpiresAt: now.Add(time.Hour)}
	if !s.Active(now) {
		t.Fatal("expected unexpired session to be active")
	}

	s.ExpiresAt = now.Add(-time.Minute)
	if s.Active(now) {
		t.Fatal("expected expired session to be inactive")
	}

	revoked := now.Add(-time.Second)
	s = &Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked}
	if s.Active(now) {
		t.Fatal("expected revoked session to be inactive")
	}
}
