package services

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"chatd/contract"
	"chatd/domain"
	"chatd/domain/event"
	"chatd/errors"
	"chatd/repositories"
	"chatd/runtime"
)

type ILifecycleService interface {
	RegisterOrGet(username, displayName string) (domain.User, error)
	Join(ctx context.Context, username, displayName, sessionToken string) (domain.User, error)
	Disconnect(ctx context.Context, sessionToken string)
	OnlineUsers() ([]OnlineUserPayload, error)
	OnlineCount() int
	Exists(username string) (bool, error)
}

// LifecycleService reacts to connection lifecycle events from the transport:
// join binds a session and announces the arrival, disconnect tears the
// binding down and announces the departure. Duplicate disconnects are
// benign no-ops with no side effects.
type LifecycleService struct {
	log       *slog.Logger
	registry  *runtime.Registry
	users     repositories.IUserRepository
	router    IMessageService
	deliverer contract.Deliverer
	events    chan<- event.DomainEvent
}

func NewLifecycleService(log *slog.Logger, registry *runtime.Registry,
	users repositories.IUserRepository, router IMessageService,
	deliverer contract.Deliverer, events chan<- event.DomainEvent) *LifecycleService {
	return &LifecycleService{
		log:       log,
		registry:  registry,
		users:     users,
		router:    router,
		deliverer: deliverer,
		events:    events,
	}
}

// RegisterOrGet provisions a user ahead of any websocket join, or returns
// the existing one. Re-registering with a new display name updates it;
// this path never fails with "already exists".
func (s *LifecycleService) RegisterOrGet(username, displayName string) (domain.User, error) {
	name := domain.NormalizeUsername(username)
	user, err := s.users.GetByUsername(name)
	if stderrors.Is(err, errors.ErrUserNotFound) {
		display := strings.TrimSpace(displayName)
		if display == "" {
			display = strings.TrimSpace(username)
		}
		return s.users.Create(name, display)
	}
	if err != nil {
		return domain.User{}, err
	}
	if display := strings.TrimSpace(displayName); display != "" && display != user.DisplayName {
		user.DisplayName = display
		if err := s.users.Save(user); err != nil {
			return domain.User{}, err
		}
	}
	return user, nil
}

// Exists reports whether a username has ever been provisioned.
func (s *LifecycleService) Exists(username string) (bool, error) {
	_, err := s.users.GetByUsername(username)
	if stderrors.Is(err, errors.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Join marks the user online (auto-provisioning on first contact), then
// broadcasts the presence event, the refreshed online list, and a system
// notice, in that order.
func (s *LifecycleService) Join(ctx context.Context, username, displayName, sessionToken string) (domain.User, error) {
	user, err := s.registry.MarkOnline(username, sessionToken)
	if err != nil {
		return domain.User{}, err
	}

	if name := strings.TrimSpace(displayName); name != "" && name != user.DisplayName {
		user.DisplayName = name
		if err := s.users.Save(user); err != nil {
			return domain.User{}, err
		}
	}

	s.announce(ctx, user, event.StatusJoined)
	s.router.BroadcastSystemNotice(ctx, user.Username+" joined the chat")
	s.log.Info("User joined", "username", user.Username, "session", sessionToken)
	return user, nil
}

// Disconnect handles a transport-level close. When no user was bound to the
// token (duplicate disconnect, or a connection that never joined) nothing
// is broadcast.
func (s *LifecycleService) Disconnect(ctx context.Context, sessionToken string) {
	user, affected, err := s.registry.MarkOfflineBySession(sessionToken)
	if err != nil {
		s.log.Error("Disconnect handling failed", "session", sessionToken, "error", err)
		return
	}
	if !affected {
		s.log.Debug("Disconnect for unknown session, ignoring", "session", sessionToken)
		return
	}

	s.announce(ctx, user, event.StatusLeft)
	s.router.BroadcastSystemNotice(ctx, user.Username+" left the chat")
	s.log.Info("User left", "username", user.Username)
}

// OnlineUsers returns the sidebar payload, username ascending.
func (s *LifecycleService) OnlineUsers() ([]OnlineUserPayload, error) {
	users, err := s.registry.ListOnline()
	if err != nil {
		return nil, err
	}
	return lo.Map(users, func(user domain.User, _ int) OnlineUserPayload {
		return toOnlineUserPayload(user)
	}), nil
}

func (s *LifecycleService) OnlineCount() int {
	return s.registry.Count()
}

// announce pushes the presence transition and the refreshed online list to
// their channels, and feeds the secondary sinks.
func (s *LifecycleService) announce(ctx context.Context, user domain.User, status event.PresenceStatus) {
	now := time.Now().UTC()
	presence := PresencePayload{
		Username:    user.Username,
		DisplayName: user.EffectiveDisplayName(),
		Status:      status,
		Timestamp:   now,
	}
	s.deliver(ctx, contract.DestPresence, presence)

	online, err := s.OnlineUsers()
	if err != nil {
		s.log.Warn("Online list refresh failed", "error", err)
	} else {
		s.deliver(ctx, contract.DestOnlineUsers, online)
	}

	select {
	case s.events <- event.PresenceChanged{
		Username:    user.Username,
		DisplayName: user.EffectiveDisplayName(),
		Status:      status,
		At:          now,
	}:
	default:
	}
}

func (s *LifecycleService) deliver(ctx context.Context, dest contract.Destination, payload any) {
	if err := s.deliverer.Deliver(ctx, dest, payload); err != nil {
		s.log.Warn("Presence delivery failed", "destination", dest, "error", err)
	}
}
