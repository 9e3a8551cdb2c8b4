package identity_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
	"github.com/alanyoungcy/cryptowallet/internal/identity"
)

func TestRegister(t *testing.T) {
	s := identity.NewStore()

	acct, err := s.Register("alice", "pw")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if acct.Username != "alice" {
		t.Errorf("Username = %q, want alice", acct.Username)
	}
	if acct.PasswordDigest == "pw" || strings.Contains(acct.PasswordDigest, "pw") {
		t.Errorf("PasswordDigest %q leaks the plaintext", acct.PasswordDigest)
	}
	if got := s.Sessions("alice"); got != 1 {
		t.Errorf("Sessions() after register = %d, want 1", got)
	}

	if _, err := s.Register("alice", "other"); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Errorf("second Register() error = %v, want %v", err, domain.ErrUsernameTaken)
	}
}

func TestRegisterIllegalUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  error
	}{
		{name: "letters digits and marks", username: "a.b-c_9", wantErr: nil},
		{name: "slash", username: "a/b", wantErr: domain.ErrIllegalUsername},
		{name: "unicode", username: "алиса", wantErr: domain.ErrIllegalUsername},
		{name: "empty", username: "", wantErr: domain.ErrIllegalUsername},
		{name: "at sign", username: "bob@host", wantErr: domain.ErrIllegalUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := identity.NewStore()
			_, err := s.Register(tt.username, "pw")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register(%q) error = %v, want %v", tt.username, err, tt.wantErr)
			}
		})
	}
}

func TestLoginSameErrorForUnknownUserAndWrongPassword(t *testing.T) {
	s := identity.NewStore()
	_, _ = s.Register("alice", "pw")

	_, errWrong := s.Login("alice", "nope")
	_, errUnknown := s.Login("mallory", "pw")
	if !errors.Is(errWrong, domain.ErrInvalidCredentials) {
		t.Fatalf("Login(wrong password) error = %v", errWrong)
	}
	if errWrong != errUnknown {
		t.Errorf("errors differ: %v vs %v", errWrong, errUnknown)
	}
}

func TestSessionCounter(t *testing.T) {
	s := identity.NewStore()
	_, _ = s.Register("alice", "pw")
	if _, err := s.Login("alice", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := s.Sessions("alice"); got != 2 {
		t.Fatalf("Sessions() = %d, want 2", got)
	}

	for i := 0; i < 2; i++ {
		if err := s.Logout("alice"); err != nil {
			t.Fatalf("Logout() #%d error = %v", i+1, err)
		}
	}
	if s.IsLoggedIn("alice") {
		t.Error("IsLoggedIn() = true after every session logged out")
	}
	if err := s.Logout("alice"); !errors.Is(err, domain.ErrNotLoggedIn) {
		t.Errorf("extra Logout() error = %v, want %v", err, domain.ErrNotLoggedIn)
	}
	if _, ok := s.Account("alice"); !ok {
		t.Error("account removed by logout")
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := identity.NewStore()
	_, _ = s.Register("zed", "pw1")
	acct, _ := s.Register("amy", "pw2")
	acct.Holdings.Add("BTC", acct.Balance, acct.Balance)

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Username != "amy" || snap[1].Username != "zed" {
		t.Fatalf("Snapshot() = %+v, want amy then zed", snap)
	}

	// Mutating the snapshot must not reach the live account.
	snap[0].Holdings.Remove("BTC")
	if _, ok := acct.Holdings.Get("BTC"); !ok {
		t.Error("snapshot shares holdings with the live account")
	}

	restored := identity.NewStore()
	restored.Restore(snap)
	if restored.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", restored.Len())
	}
	if restored.IsLoggedIn("amy") {
		t.Error("restored account has a live session")
	}
	if _, err := restored.Login("amy", "pw2"); err != nil {
		t.Errorf("Login() after restore error = %v", err)
	}
}

func TestDigestWidth(t *testing.T) {
	got := identity.Digest("pw")
	if len(got) < 32 {
		t.Errorf("len(Digest()) = %d, want >= 32", len(got))
	}
	if got != identity.Digest("pw") {
		t.Error("Digest() is not deterministic")
	}
	if got == identity.Digest("pw2") {
		t.Error("different passwords share a digest")
	}
}
