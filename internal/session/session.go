// Package session tracks the authenticated identity produced by login: the
// account record, the API token, and the derived auth headers. Sessions are
// persisted through a Store so separate CLI invocations can reuse a login.
package session

import (
	"errors"
	"time"

	"github.com/striglia/auraframes/internal/models"
)

// ErrNoSession is returned by stores when no session has been saved yet.
var ErrNoSession = errors.New("session: not logged in")

// Session is the state established by a successful login.
type Session struct {
	User     models.User `json:"user"`
	Token    string      `json:"token"`
	IssuedAt time.Time   `json:"issued_at"`
}

// New builds a Session from a login response. The token rides on the user
// record in the login payload but is tracked separately from then on.
func New(user models.User, now time.Time) Session {
	token := user.AuthToken
	user.AuthToken = ""
	return Session{User: user, Token: token, IssuedAt: now.UTC()}
}

// Valid reports whether the session carries enough state to authenticate.
func (s Session) Valid() bool {
	return s.Token != "" && s.User.ID != ""
}

// UserID returns the account identifier sent in the x-user-id header.
func (s Session) UserID() string {
	return s.User.ID
}

// Store persists one session at a time.
type Store interface {
	Save(session Session) error
	Load() (Session, error)
	Clear() error
}
