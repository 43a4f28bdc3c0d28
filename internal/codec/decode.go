package codec

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/basekick-labs/ritstream/pkg/models"
)

type rawDocument struct {
	_        struct{} `cbor:",toarray"`
	Metadata []cbor.RawMessage
	Rows     []cbor.RawMessage
}

var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Decode parses a document produced by Encode back into an envelope.
// It is strict about shape: outer arity 2, tag 19 on the label, an even
// number of metadata items after it, and 6 fields per row.
func Decode(data []byte) (*models.Envelope, error) {
	var doc rawDocument
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	env := &models.Envelope{}
	if err := decodeMetadata(doc.Metadata, &env.Metadata); err != nil {
		return nil, err
	}

	env.Rows = make([]models.Row, 0, len(doc.Rows))
	for i, raw := range doc.Rows {
		row, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformedDocument, i, err)
		}
		env.Rows = append(env.Rows, row)
	}
	return env, nil
}

func decodeMetadata(items []cbor.RawMessage, m *models.Metadata) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: metadata block is empty", ErrMalformedDocument)
	}

	var label cbor.RawTag
	if err := decMode.Unmarshal(items[0], &label); err != nil {
		return fmt.Errorf("%w: metadata label: %v", ErrMalformedDocument, err)
	}
	if label.Number != TagOrderedMap {
		return fmt.Errorf("%w: metadata tag %d, want %d", ErrMalformedDocument, label.Number, TagOrderedMap)
	}
	var name string
	if err := decMode.Unmarshal(label.Content, &name); err != nil || name != MetadataLabel {
		return fmt.Errorf("%w: metadata label is not %q", ErrMalformedDocument, MetadataLabel)
	}

	pairs := items[1:]
	if len(pairs)%2 != 0 {
		return fmt.Errorf("%w: odd number of metadata items", ErrMalformedDocument)
	}
	for i := 0; i < len(pairs); i += 2 {
		var key string
		if err := decMode.Unmarshal(pairs[i], &key); err != nil {
			return fmt.Errorf("%w: metadata key %d: %v", ErrMalformedDocument, i/2, err)
		}
		var raw any
		if err := decMode.Unmarshal(pairs[i+1], &raw); err != nil {
			return fmt.Errorf("%w: metadata value %q: %v", ErrMalformedDocument, key, err)
		}
		v, err := naturalValue(raw)
		if err != nil {
			return fmt.Errorf("%w: metadata value %q: %v", ErrMalformedDocument, key, err)
		}
		m.Set(key, v)
	}
	return nil
}

func decodeRow(raw cbor.RawMessage) (models.Row, error) {
	var w wireRow
	if err := decMode.Unmarshal(raw, &w); err != nil {
		return models.Row{}, err
	}
	v, err := naturalValue(w.Value)
	if err != nil {
		return models.Row{}, fmt.Errorf("sequence %d: %w", w.Sequence, err)
	}
	return models.Row{
		Sequence: w.Sequence,
		EntityID: w.EntityID,
		IndexID:  w.IndexID,
		Name:     w.Name,
		Value:    v,
		Value2:   w.Value2,
	}, nil
}

// naturalValue maps a generically decoded CBOR item onto a Value.
// Positive integers decode as uint64.
func naturalValue(x any) (models.Value, error) {
	switch v := x.(type) {
	case nil:
		return models.Null(), nil
	case uint64:
		if v > math.MaxInt64 {
			return models.Value{}, fmt.Errorf("integer %d overflows int64", v)
		}
		return models.Integer(int64(v)), nil
	case int64:
		return models.Integer(v), nil
	case float64:
		return models.Float(v), nil
	case string:
		return models.Text(v), nil
	case []byte:
		return models.Bytes(v), nil
	default:
		return models.Value{}, fmt.Errorf("unexpected item of type %T", x)
	}
}
