// Package session identifies the signed-in user. Every query the habit store makes
// is scoped by Session.UserID.
package session

import (
	"errors"
	"fmt"
	"os/user"
	"strings"

	"github.com/julianstephens/habitsync/internal/backend"
)

var ErrNoUser = errors.New("no user id")

var currentUserFunc = user.Current

type Session struct {
	UserID string
}

// New validates userID and returns a session for it.
func New(userID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, ErrNoUser
	}
	if err := backend.ValidateName("user id", userID); err != nil {
		return Session{}, fmt.Errorf("invalid user id: %w", err)
	}
	return Session{UserID: userID}, nil
}

// Resolve uses userID when set, otherwise the operating system user name.
func Resolve(userID string) (Session, error) {
	if strings.TrimSpace(userID) != "" {
		return New(userID)
	}
	u, err := currentUserFunc()
	if err != nil {
		return Session{}, fmt.Errorf("failed to determine the current user, pass --user: %w", err)
	}
	return New(sanitize(u.Username))
}

// sanitize maps an OS account name such as "DOMAIN\name" or "first.last" onto the
// document id alphabet.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (s Session) Valid() bool {
	return s.UserID != ""
}
