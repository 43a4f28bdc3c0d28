// Package codec turns envelopes into the CBOR documents published on the ritdb topic.
//
// Wire format:
//
//	[                                   array(2)
//	  [ 19("metadata"), k1, v1, ... ],  array(1+2k), ordered pairs
//	  [ [seq, entityID, indexID, name, value, value2], ... ]
//	]
//
// All arrays are definite-length. Tag 19 marks the pairs following the
// label as an ordered map. Row fields are positional.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/basekick-labs/ritstream/pkg/models"
)

const (
	// TagOrderedMap is the semantic tag placed on the metadata label.
	TagOrderedMap = 19
	// MetadataLabel is the first item of the metadata block.
	MetadataLabel = "metadata"
	// RowArity is the number of positional fields per encoded row.
	RowArity = 6
)

// wireRow is the positional row layout.
type wireRow struct {
	_        struct{} `cbor:",toarray"`
	Sequence int64
	EntityID int64
	IndexID  int64
	Name     string
	Value    any
	Value2   *string
}

type wireDocument struct {
	_        struct{} `cbor:",toarray"`
	Metadata []any
	Rows     []wireRow
}

// Encoder encodes envelopes. It holds no per-call state and is safe for
// concurrent use.
type Encoder struct {
	em cbor.EncMode
}

// NewEncoder builds an encoder with definite-length arrays and full-width
// floats (NaN and infinities are kept as 64-bit values, never shortened).
// Nil byte slices encode as empty byte strings, not null.
func NewEncoder() (*Encoder, error) {
	em, err := cbor.EncOptions{
		Sort:          cbor.SortNone,
		ShortestFloat: cbor.ShortestFloatNone,
		NaNConvert:    cbor.NaNConvertNone,
		InfConvert:    cbor.InfConvertNone,
		IndefLength:   cbor.IndefLengthForbidden,
		TagsMd:        cbor.TagsAllowed,
		NilContainers: cbor.NilContainerAsEmpty,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor encode mode: %w", err)
	}
	return &Encoder{em: em}, nil
}

var defaultEncoder = mustEncoder()

func mustEncoder() *Encoder {
	e, err := NewEncoder()
	if err != nil {
		panic(err)
	}
	return e
}

// Encode encodes env with the default encoder.
func Encode(env *models.Envelope) ([]byte, error) {
	return defaultEncoder.Encode(env)
}

// Encode returns the document bytes for env. On error no bytes are returned.
func (e *Encoder) Encode(env *models.Envelope) ([]byte, error) {
	meta, err := encodeMetadata(&env.Metadata)
	if err != nil {
		return nil, err
	}

	rows := make([]wireRow, len(env.Rows))
	for i := range env.Rows {
		if err := encodeRow(&env.Rows[i], &rows[i]); err != nil {
			return nil, err
		}
	}

	out, err := e.em.Marshal(wireDocument{Metadata: meta, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return out, nil
}

func encodeMetadata(m *models.Metadata) ([]any, error) {
	block := make([]any, 0, 1+2*m.Len())
	block = append(block, cbor.Tag{Number: TagOrderedMap, Content: MetadataLabel})

	var err error
	m.Range(func(key string, v models.Value) bool {
		nat, ok := v.Interface()
		if !ok {
			err = &UnsupportedValueTypeError{Key: key, Type: v.TypeName()}
			return false
		}
		block = append(block, key, nat)
		return true
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

func encodeRow(r *models.Row, w *wireRow) error {
	nat, ok := r.Value.Interface()
	if !ok {
		return &UnsupportedValueTypeError{Sequence: r.Sequence, Type: r.Value.TypeName()}
	}
	w.Sequence = r.Sequence
	w.EntityID = r.EntityID
	w.IndexID = r.IndexID
	w.Name = r.Name
	w.Value = nat
	w.Value2 = r.Value2
	return nil
}
