package idp

import (
	"crypto/subtle"
	"errors"

	"oidcpair/config"
)

// ErrBadCredentials is returned for login attempts that do not match.
var ErrBadCredentials = errors.New("bad credentials")

// UserDirectory resolves users from configuration. Production deployments
// would substitute a real directory; the interface surface is small on
// purpose: authenticate at login, look up by id at token time.
type UserDirectory struct {
	byID       map[string]*User
	byUsername map[string]*User
}

// NewUserDirectory builds the directory from configuration.
func NewUserDirectory(cfgs []config.UserConfig) *UserDirectory {
	dir := &UserDirectory{
		byID:       make(map[string]*User, len(cfgs)),
		byUsername: make(map[string]*User, len(cfgs)),
	}
	for _, cfg := range cfgs {
		user := &User{
			ID:            cfg.ID,
			Username:      cfg.Username,
			Password:      cfg.Password,
			Name:          cfg.Name,
			Email:         cfg.Email,
			EmailVerified: cfg.EmailVerified,
		}
		dir.byID[user.ID] = user
		dir.byUsername[user.Username] = user
	}
	return dir
}

// Authenticate checks a username/password pair.
func (d *UserDirectory) Authenticate(username, password string) (*User, error) {
	user, ok := d.byUsername[username]
	if !ok {
		return nil, ErrBadCredentials
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(user.Password)) != 1 {
		return nil, ErrBadCredentials
	}
	return user, nil
}

// ByID looks a user up by the stable identifier used as the token subject.
func (d *UserDirectory) ByID(id string) (*User, bool) {
	user, ok := d.byID[id]
	return user, ok
}
