package codec

import (
	"errors"
	"fmt"
)

// ErrUnsupportedValueType is matched by errors.Is for every UnsupportedValueTypeError.
var ErrUnsupportedValueType = errors.New("unsupported value type")

// ErrMalformedDocument is returned by Decode when the input does not follow the envelope layout.
var ErrMalformedDocument = errors.New("malformed envelope document")

// UnsupportedValueTypeError reports a dynamic value the encoder cannot represent.
// Sequence identifies the offending row. For metadata values Key is set instead.
type UnsupportedValueTypeError struct {
	Sequence int64
	Key      string
	Type     string
}

func (e *UnsupportedValueTypeError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("unsupported value type %s for metadata key %q", e.Type, e.Key)
	}
	return fmt.Sprintf("unsupported value type %s in row sequence %d", e.Type, e.Sequence)
}

func (e *UnsupportedValueTypeError) Is(target error) bool {
	return target == ErrUnsupportedValueType
}
