// Package runtime holds the shared mutable state of the routing node: the
// presence registry and the supervised worker machinery around it. It
// orchestrates the system without containing domain rules.
package runtime

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	stderrors "errors"

	"chatd/domain"
	"chatd/errors"
	"chatd/repositories"
)

// Registry is the single source of truth for "who is online". It owns the
// sessionToken→username binding; the Online/SessionToken fields persisted on
// the user record are a cached projection of this map, refreshed under the
// same lock so the two can never be observed disagreeing.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	users    repositories.IUserRepository
	sessions map[string]string // sessionToken -> username
	tokens   map[string]string // username -> sessionToken
}

func NewRegistry(users repositories.IUserRepository, log *slog.Logger) *Registry {
	return &Registry{
		log:      log,
		users:    users,
		sessions: make(map[string]string),
		tokens:   make(map[string]string),
	}
}

// MarkOnline binds a session token to a username and flips the user online.
// Unknown usernames are auto-provisioned on the spot. A user reconnecting
// with a fresh token simply overwrites the stale binding: last writer wins,
// duplicate connects are not an error.
func (r *Registry) MarkOnline(username, sessionToken string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := domain.NormalizeUsername(username)
	user, err := r.users.GetByUsername(name)
	if stderrors.Is(err, errors.ErrUserNotFound) {
		user, err = r.users.Create(name, username)
		if err != nil {
			return domain.User{}, err
		}
		r.log.Info("User auto-provisioned on first connect", "username", name)
	} else if err != nil {
		return domain.User{}, err
	}

	// The same socket may re-join under a new name. Release the previous
	// identity first, otherwise it stays online with no token left to
	// disconnect it.
	if prev, ok := r.sessions[sessionToken]; ok && prev != name {
		if r.tokens[prev] == sessionToken {
			delete(r.tokens, prev)
			prevUser, err := r.users.GetByUsername(prev)
			if err != nil {
				return domain.User{}, err
			}
			prevUser.Online = false
			prevUser.SessionToken = ""
			prevUser.LastSeen = time.Now().UTC()
			if err := r.users.Save(prevUser); err != nil {
				return domain.User{}, err
			}
			r.log.Info("Session rebound to a new username", "session", sessionToken, "previous", prev, "username", name)
		}
	}
	if stale, ok := r.tokens[name]; ok && stale != sessionToken {
		delete(r.sessions, stale)
	}
	r.sessions[sessionToken] = name
	r.tokens[name] = sessionToken

	user.Online = true
	user.SessionToken = sessionToken
	user.LastSeen = time.Now().UTC()
	if err := r.users.Save(user); err != nil {
		return domain.User{}, err
	}
	r.log.Debug("User marked online", "username", name, "session", sessionToken)
	return user, nil
}

// MarkOfflineBySession clears the binding for a session token. An unknown
// token (duplicate disconnect, or a connection that never joined) is a benign
// no-op signalled by the false return, never an error.
func (r *Registry) MarkOfflineBySession(sessionToken string) (domain.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.sessions[sessionToken]
	if !ok {
		return domain.User{}, false, nil
	}
	delete(r.sessions, sessionToken)
	// A reconnect may already have rebound the username to a newer token;
	// only drop the reverse entry when it still points at us.
	if r.tokens[name] == sessionToken {
		delete(r.tokens, name)
	}

	user, err := r.users.GetByUsername(name)
	if err != nil {
		return domain.User{}, false, err
	}
	user.Online = false
	user.SessionToken = ""
	user.LastSeen = time.Now().UTC()
	if err := r.users.Save(user); err != nil {
		return domain.User{}, false, err
	}
	r.log.Info("User marked offline", "username", name)
	return user, true, nil
}

// ListOnline returns snapshots of every online user, username ascending so
// sidebar rendering stays stable.
func (r *Registry) ListOnline() ([]domain.User, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.tokens))
	for name := range r.tokens {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	users := make([]domain.User, 0, len(names))
	for _, name := range names {
		user, err := r.users.GetByUsername(name)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// Count reports how many users are currently online.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
