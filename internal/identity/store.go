// Package identity keeps credential records and per-account session counters.
//
// A Store is not safe for concurrent use. The server confines it to the
// control goroutine.
package identity

import (
	"regexp"
	"sort"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

var validUsername = regexp.MustCompile(`^[a-zA-Z0-9\-_.]+$`)

// Store owns every Account and the number of live sessions per account.
type Store struct {
	accounts map[string]*domain.Account
	sessions map[string]int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		sessions: make(map[string]int),
	}
}

// Register creates an account and logs it in once.
func (s *Store) Register(username, password string) (*domain.Account, error) {
	if _, ok := s.accounts[username]; ok {
		return nil, domain.ErrUsernameTaken
	}
	if !validUsername.MatchString(username) {
		return nil, domain.ErrIllegalUsername
	}

	acct := &domain.Account{
		Username:       username,
		PasswordDigest: Digest(password),
	}
	s.accounts[username] = acct
	s.sessions[username] = 1
	return acct, nil
}

// Login checks the credentials and adds a session. Unknown usernames and
// wrong passwords return the same error.
func (s *Store) Login(username, password string) (*domain.Account, error) {
	acct, ok := s.accounts[username]
	if !ok || !verify(acct.PasswordDigest, password) {
		return nil, domain.ErrInvalidCredentials
	}
	s.sessions[username]++
	return acct, nil
}

// Logout removes one session. It returns domain.ErrNotLoggedIn when the
// account has none left.
func (s *Store) Logout(username string) error {
	n, ok := s.sessions[username]
	if !ok || n <= 0 {
		return domain.ErrNotLoggedIn
	}
	if n == 1 {
		delete(s.sessions, username)
		return nil
	}
	s.sessions[username] = n - 1
	return nil
}

// Release drops one session for a connection that went away without logging
// out. Accounts with no live sessions are left alone.
func (s *Store) Release(username string) {
	_ = s.Logout(username)
}

// IsLoggedIn reports whether username has at least one live session.
func (s *Store) IsLoggedIn(username string) bool {
	return s.sessions[username] > 0
}

// Sessions returns the live session count for username.
func (s *Store) Sessions(username string) int {
	return s.sessions[username]
}

// Account returns the account registered under username.
func (s *Store) Account(username string) (*domain.Account, bool) {
	acct, ok := s.accounts[username]
	return acct, ok
}

// Len returns the number of registered accounts.
func (s *Store) Len() int {
	return len(s.accounts)
}

// Restore replaces every account with the given records and clears all
// sessions.
func (s *Store) Restore(accounts []domain.Account) {
	s.accounts = make(map[string]*domain.Account, len(accounts))
	s.sessions = make(map[string]int)
	for i := range accounts {
		acct := accounts[i].Clone()
		s.accounts[acct.Username] = &acct
	}
}

// Snapshot returns deep copies of every account, sorted by username.
func (s *Store) Snapshot() []domain.Account {
	out := make([]domain.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Username < out[j].Username
	})
	return out
}
