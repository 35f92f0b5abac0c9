package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chatd/domain"
	"chatd/domain/event"
)

// recordingSink collects consumed events.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// stuckSink blocks until its context expires.
type stuckSink struct{}

func (s stuckSink) Consume(ctx context.Context, _ event.DomainEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEventFanout_DeliversToEverySink(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	events := make(chan event.DomainEvent, 10)
	sink1 := &recordingSink{}
	sink2 := &recordingSink{}
	worker := NewEventFanout(log, events, time.Second, sink1, sink2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	// When two events flow through the channel
	events <- event.MessageStored{Message: domain.Message{ID: 1, Group: true}}
	events <- event.PresenceChanged{Username: "alice", Status: event.StatusJoined, At: time.Now()}
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Fanout did not drain the channel in time")
	}

	// Then both sinks saw both events
	req.Equal(2, sink1.count())
	req.Equal(2, sink2.count())
}

func TestEventFanout_SlowSinkDoesNotStarveOthers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	events := make(chan event.DomainEvent, 1)
	healthy := &recordingSink{}
	worker := NewEventFanout(log, events, 50*time.Millisecond, stuckSink{}, healthy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	events <- event.MessageStored{Message: domain.Message{ID: 1}}
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("A stuck sink blocked the fanout")
	}
	req.Equal(1, healthy.count())
}
