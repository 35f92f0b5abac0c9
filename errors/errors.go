package errors

import "fmt"

var (
	ErrUserNotFound         = fmt.Errorf("user not found")
	ErrUserAlreadyExists    = fmt.Errorf("user already exists")
	ErrInvalidMessage       = fmt.Errorf("invalid message")
	ErrUnsupportedMediaKind = fmt.Errorf("unsupported media kind")
	ErrPayloadTooLarge      = fmt.Errorf("payload too large")
	ErrStoreUnavailable     = fmt.Errorf("store unavailable")
	ErrWorkerPanic          = fmt.Errorf("worker panic")
)
