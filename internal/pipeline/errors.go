package pipeline

import (
	"context"
	"errors"

	"github.com/basekick-labs/ritstream/internal/codec"
	"github.com/basekick-labs/ritstream/internal/mqtt"
	"github.com/basekick-labs/ritstream/internal/source"
)

// Error kinds reported to the operator. Every kind is fatal to a run.
const (
	KindSourceFetch          = "SourceFetchError"
	KindUnsupportedValueType = "UnsupportedValueType"
	KindPublish              = "PublishError"
	KindConnectionSetup      = "ConnectionSetupError"
	KindInterrupted          = "Interrupted"
	KindUnknown              = "Unknown"
)

var (
	// ErrAlreadyStarted is returned when Run is called on a driver that left Idle.
	ErrAlreadyStarted = errors.New("pipeline already started")

	// ErrInvalidConfig indicates driver settings that cannot run.
	ErrInvalidConfig = errors.New("invalid pipeline config")
)

// Kind classifies err into one of the Kind* constants. Cancellation wins
// over whichever step observed it.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindInterrupted
	case errors.Is(err, source.ErrConnect), errors.Is(err, mqtt.ErrConnect):
		return KindConnectionSetup
	case errors.Is(err, source.ErrFetch):
		return KindSourceFetch
	case errors.Is(err, codec.ErrUnsupportedValueType):
		return KindUnsupportedValueType
	case errors.Is(err, mqtt.ErrPublish):
		return KindPublish
	default:
		return KindUnknown
	}
}
