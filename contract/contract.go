//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chatd/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink consumes domain events off the fanout path.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Destination addresses an outbound delivery target understood by the
// transport layer.
type Destination string

const (
	DestBroadcast   Destination = "broadcast"
	DestPresence    Destination = "presence"
	DestOnlineUsers Destination = "online-users"
)

// DestUser addresses a single user's private queue.
func DestUser(username string) Destination {
	return Destination("user:" + username)
}

// Deliverer is the transport-side send primitive. The payload is an
// outward-facing representation; the transport owns the wire encoding.
type Deliverer interface {
	Deliver(ctx context.Context, dest Destination, payload any) error
}
