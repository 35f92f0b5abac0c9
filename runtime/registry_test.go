package runtime

import (
	"fmt"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"chatd/domain"
	"chatd/errors"
)

// memoryUsers is an in-memory user store, enough for registry tests.
type memoryUsers struct {
	users  map[string]domain.User
	nextID uint64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]domain.User)}
}

func (m *memoryUsers) Create(username, displayName string) (domain.User, error) {
	name := domain.NormalizeUsername(username)
	if _, ok := m.users[name]; ok {
		return domain.User{}, fmt.Errorf("%w: %s", errors.ErrUserAlreadyExists, name)
	}
	m.nextID++
	user := domain.User{ID: m.nextID, Username: name, DisplayName: displayName}
	m.users[name] = user
	return user, nil
}

func (m *memoryUsers) GetByUsername(username string) (domain.User, error) {
	user, ok := m.users[domain.NormalizeUsername(username)]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %s", errors.ErrUserNotFound, username)
	}
	return user, nil
}

func (m *memoryUsers) Save(user domain.User) error {
	m.users[user.Username] = user
	return nil
}

func (m *memoryUsers) All() ([]domain.User, error) {
	names := make([]string, 0, len(m.users))
	for name := range m.users {
		names = append(names, name)
	}
	sort.Strings(names)
	users := make([]domain.User, 0, len(names))
	for _, name := range names {
		users = append(users, m.users[name])
	}
	return users, nil
}

func (m *memoryUsers) ResetAllOnline() error {
	for name, user := range m.users {
		user.Online = false
		user.SessionToken = ""
		m.users[name] = user
	}
	return nil
}

func TestRegistry_MarkOnline_AutoProvisions(t *testing.T) {
	req := require.New(t)
	users := newMemoryUsers()
	registry := NewRegistry(users, slog.Default())

	// Given nobody ever registered

	// When an unknown username connects
	user, err := registry.MarkOnline("Alice", "token-1")
	req.NoError(err)

	// Then the user exists, online, with the session bound
	req.Equal("alice", user.Username)
	req.True(user.Online)
	req.Equal("token-1", user.SessionToken)
	req.Equal(1, registry.Count())

	stored, err := users.GetByUsername("alice")
	req.NoError(err)
	req.True(stored.Online)
}

func TestRegistry_Reconnect_LastWriterWins(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(newMemoryUsers(), slog.Default())

	_, err := registry.MarkOnline("alice", "token-old")
	req.NoError(err)

	// When the same user reconnects with a fresh token
	_, err = registry.MarkOnline("alice", "token-new")
	req.NoError(err)
	req.Equal(1, registry.Count())

	// Then the stale token no longer maps to anyone
	_, affected, err := registry.MarkOfflineBySession("token-old")
	req.NoError(err)
	req.False(affected)
	req.Equal(1, registry.Count())

	// And the fresh one does
	user, affected, err := registry.MarkOfflineBySession("token-new")
	req.NoError(err)
	req.True(affected)
	req.Equal("alice", user.Username)
	req.False(user.Online)
	req.Zero(registry.Count())
}

func TestRegistry_Rejoin_NewName_ReleasesPreviousUser(t *testing.T) {
	req := require.New(t)
	users := newMemoryUsers()
	registry := NewRegistry(users, slog.Default())

	// Given a session joined as alice
	_, err := registry.MarkOnline("alice", "token-1")
	req.NoError(err)

	// When the same session joins again as bob
	_, err = registry.MarkOnline("bob", "token-1")
	req.NoError(err)

	// Then alice is fully released, online list and stored record alike
	req.Equal(1, registry.Count())
	online, err := registry.ListOnline()
	req.NoError(err)
	req.Len(online, 1)
	req.Equal("bob", online[0].Username)

	stored, err := users.GetByUsername("alice")
	req.NoError(err)
	req.False(stored.Online)
	req.Empty(stored.SessionToken)

	// And disconnecting the session only touches bob
	user, affected, err := registry.MarkOfflineBySession("token-1")
	req.NoError(err)
	req.True(affected)
	req.Equal("bob", user.Username)
	req.Zero(registry.Count())
}

func TestRegistry_Rejoin_NewName_KeepsConcurrentReconnect(t *testing.T) {
	req := require.New(t)
	users := newMemoryUsers()
	registry := NewRegistry(users, slog.Default())

	// Given alice already reconnected on a fresh token
	_, err := registry.MarkOnline("alice", "token-1")
	req.NoError(err)
	_, err = registry.MarkOnline("alice", "token-2")
	req.NoError(err)

	// When the stale session re-joins as bob
	_, err = registry.MarkOnline("bob", "token-1")
	req.NoError(err)

	// Then alice's fresh binding survives
	req.Equal(2, registry.Count())
	stored, err := users.GetByUsername("alice")
	req.NoError(err)
	req.True(stored.Online)
	req.Equal("token-2", stored.SessionToken)
}

func TestRegistry_MarkOffline_UnknownToken_NoOp(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(newMemoryUsers(), slog.Default())

	_, affected, err := registry.MarkOfflineBySession("never-joined")
	req.NoError(err)
	req.False(affected)
}

func TestRegistry_MarkOffline_Twice_SecondIsNoOp(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(newMemoryUsers(), slog.Default())

	_, err := registry.MarkOnline("alice", "token-1")
	req.NoError(err)

	_, affected, err := registry.MarkOfflineBySession("token-1")
	req.NoError(err)
	req.True(affected)

	_, affected, err = registry.MarkOfflineBySession("token-1")
	req.NoError(err)
	req.False(affected)
}

func TestRegistry_ListOnline_SortedByUsername(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(newMemoryUsers(), slog.Default())

	for _, name := range []string{"zoe", "alice", "mallory"} {
		_, err := registry.MarkOnline(name, "token-"+name)
		req.NoError(err)
	}

	online, err := registry.ListOnline()
	req.NoError(err)
	req.Len(online, 3)
	req.Equal("alice", online[0].Username)
	req.Equal("mallory", online[1].Username)
	req.Equal("zoe", online[2].Username)
}
