package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/ritstream/pkg/models"
)

// array(1), tag(19), text(8) "metadata"
var emptyMetadataBlock = []byte{0x81, 0xd3, 0x68, 'm', 'e', 't', 'a', 'd', 'a', 't', 'a'}

func TestEncode_EmptyEnvelope(t *testing.T) {
	got, err := Encode(models.NewEnvelope(nil))
	require.NoError(t, err)

	want := append([]byte{0x82}, emptyMetadataBlock...)
	want = append(want, 0x80)
	assert.Equal(t, want, got)
}

func TestEncode_SingleRowGolden(t *testing.T) {
	env := models.NewEnvelope([]models.Row{{
		Sequence: 1,
		EntityID: 2,
		IndexID:  3,
		Name:     "n",
		Value:    models.Integer(100),
	}})

	got, err := Encode(env)
	require.NoError(t, err)

	want := append([]byte{0x82}, emptyMetadataBlock...)
	want = append(want,
		0x81,             // rows array(1)
		0x86,             // row array(6)
		0x01, 0x02, 0x03, // sequence, entityID, indexID
		0x61, 'n', // name
		0x18, 0x64, // value 100
		0xf6, // value2 null
	)
	assert.Equal(t, want, got)
}

func TestEncode_NaturalValueEncodings(t *testing.T) {
	tests := []struct {
		name  string
		value models.Value
		want  []byte
	}{
		{name: "null", value: models.Null(), want: []byte{0xf6}},
		{name: "small int", value: models.Integer(7), want: []byte{0x07}},
		{name: "negative int", value: models.Integer(-1), want: []byte{0x20}},
		{name: "large int", value: models.Integer(1 << 40), want: []byte{0x1b, 0, 0, 0x01, 0, 0, 0, 0, 0}},
		{name: "float64 full width", value: models.Float(1.5), want: []byte{0xfb, 0x3f, 0xf8, 0, 0, 0, 0, 0, 0}},
		{name: "NaN stays 64-bit", value: models.Float(math.NaN()), want: append([]byte{0xfb}, float64Bits(math.NaN())...)},
		{name: "text", value: models.Text("ab"), want: []byte{0x62, 'a', 'b'}},
		{name: "text digits stays text", value: models.Text("12"), want: []byte{0x62, '1', '2'}},
		{name: "bytes", value: models.Bytes([]byte{0xde, 0xad}), want: []byte{0x42, 0xde, 0xad}},
		{name: "nil bytes stay bytes", value: models.Bytes(nil), want: []byte{0x40}},
		{name: "empty bytes", value: models.Bytes([]byte{}), want: []byte{0x40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := models.NewEnvelope([]models.Row{{Sequence: 0, Name: "", Value: tt.value}})
			got, err := Encode(env)
			require.NoError(t, err)

			prefix := append([]byte{0x82}, emptyMetadataBlock...)
			prefix = append(prefix, 0x81, 0x86, 0x00, 0x00, 0x00, 0x60)
			want := append(prefix, tt.want...)
			want = append(want, 0xf6)
			assert.Equal(t, want, got)
		})
	}
}

func TestEncode_NilBytesDecodeAsBytes(t *testing.T) {
	env := models.NewEnvelope([]models.Row{{Sequence: 1, Name: "n", Value: models.Bytes(nil)}})
	env.Metadata.Set("blob", models.Bytes(nil))

	b, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, models.KindBytes, got.Rows[0].Value.Kind())

	v, ok := got.Metadata.Get("blob")
	require.True(t, ok)
	assert.Equal(t, models.KindBytes, v.Kind())
}

func float64Bits(f float64) []byte {
	b := math.Float64bits(f)
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(b >> (56 - 8*i))
	}
	return out
}

func TestEncode_Deterministic(t *testing.T) {
	env := sampleEnvelope()

	a, err := Encode(env)
	require.NoError(t, err)
	b, err := Encode(env)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	enc, err := NewEncoder()
	require.NoError(t, err)
	c, err := enc.Encode(env)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestEncode_RoundTripShape(t *testing.T) {
	env := sampleEnvelope()
	data, err := Encode(env)
	require.NoError(t, err)

	var generic any
	require.NoError(t, cbor.Unmarshal(data, &generic))

	doc, ok := generic.([]any)
	require.True(t, ok)
	require.Len(t, doc, 2)

	meta, ok := doc[0].([]any)
	require.True(t, ok)
	require.Len(t, meta, 1+2*env.Metadata.Len())
	tag, ok := meta[0].(cbor.Tag)
	require.True(t, ok)
	assert.Equal(t, uint64(TagOrderedMap), tag.Number)
	assert.Equal(t, MetadataLabel, tag.Content)
	assert.Equal(t, []any{"source", "ritdb1", "run", uint64(3), "alpha", nil}, meta[1:])

	rows, ok := doc[1].([]any)
	require.True(t, ok)
	require.Len(t, rows, len(env.Rows))
	for i, r := range rows {
		fields, ok := r.([]any)
		require.True(t, ok)
		require.Len(t, fields, RowArity)
		assert.Equal(t, uint64(env.Rows[i].Sequence), fields[0])
		assert.Equal(t, env.Rows[i].Name, fields[3])
	}
}

func TestEncode_NullsKeepRowArity(t *testing.T) {
	env := models.NewEnvelope([]models.Row{{Sequence: 9, Name: "x"}})
	data, err := Encode(env)
	require.NoError(t, err)

	var generic []any
	require.NoError(t, cbor.Unmarshal(data, &generic))
	rows := generic[1].([]any)
	fields := rows[0].([]any)
	require.Len(t, fields, RowArity)
	assert.Nil(t, fields[4])
	assert.Nil(t, fields[5])
	assert.Equal(t, byte(0xf6), data[len(data)-1])
	assert.Equal(t, byte(0xf6), data[len(data)-2])
}

func TestEncode_UnsupportedValueType(t *testing.T) {
	env := models.NewEnvelope([]models.Row{
		{Sequence: 1, Name: "ok", Value: models.Integer(1)},
		{Sequence: 2, Name: "bad", Value: models.ValueOf(true)},
	})

	data, err := Encode(env)
	require.Error(t, err)
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, ErrUnsupportedValueType))

	var uerr *UnsupportedValueTypeError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, int64(2), uerr.Sequence)
	assert.Equal(t, "bool", uerr.Type)
	assert.Contains(t, err.Error(), "sequence 2")
}

func TestEncode_UnsupportedMetadataValue(t *testing.T) {
	env := models.NewEnvelope(nil)
	env.Metadata.Set("when", models.ValueOf(struct{}{}))

	_, err := Encode(env)
	var uerr *UnsupportedValueTypeError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "when", uerr.Key)
}

func TestDecode_RoundTrip(t *testing.T) {
	env := sampleEnvelope()
	data, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, env.Metadata.Keys(), got.Metadata.Keys())
	env.Metadata.Range(func(k string, v models.Value) bool {
		gv, ok := got.Metadata.Get(k)
		assert.True(t, ok)
		assert.True(t, v.Equal(gv), "metadata %q", k)
		return true
	})

	require.Len(t, got.Rows, len(env.Rows))
	for i := range env.Rows {
		want, have := env.Rows[i], got.Rows[i]
		assert.Equal(t, want.Sequence, have.Sequence)
		assert.Equal(t, want.EntityID, have.EntityID)
		assert.Equal(t, want.IndexID, have.IndexID)
		assert.Equal(t, want.Name, have.Name)
		assert.True(t, want.Value.Equal(have.Value), "row %d value %s != %s", i, want.Value, have.Value)
		assert.Equal(t, want.Value2, have.Value2)
	}
}

func TestDecode_Malformed(t *testing.T) {
	mustMarshal := func(v any) []byte {
		b, err := cbor.Marshal(v)
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "garbage", data: []byte{0xff, 0x00}},
		{name: "wrong outer arity", data: mustMarshal([]any{[]any{}, []any{}, []any{}})},
		{name: "missing tag", data: mustMarshal([]any{[]any{"metadata"}, []any{}})},
		{name: "wrong tag", data: mustMarshal([]any{[]any{cbor.Tag{Number: 5, Content: "metadata"}}, []any{}})},
		{name: "wrong label", data: mustMarshal([]any{[]any{cbor.Tag{Number: 19, Content: "meta"}}, []any{}})},
		{name: "odd pairs", data: mustMarshal([]any{[]any{cbor.Tag{Number: 19, Content: "metadata"}, "k"}, []any{}})},
		{name: "short row", data: mustMarshal([]any{[]any{cbor.Tag{Number: 19, Content: "metadata"}}, []any{[]any{1, 2, 3}}})},
		{name: "value2 not string", data: mustMarshal([]any{[]any{cbor.Tag{Number: 19, Content: "metadata"}}, []any{[]any{1, 2, 3, "n", nil, 4}}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedDocument))
		})
	}
}

func sampleEnvelope() *models.Envelope {
	env := models.NewEnvelope([]models.Row{
		{Sequence: 1, EntityID: 10, IndexID: 0, Name: "temperature", Value: models.Float(21.5), Value2: models.StringPtr("C")},
		{Sequence: 2, EntityID: 10, IndexID: 1, Name: "count", Value: models.Integer(-42)},
		{Sequence: 3, EntityID: 11, IndexID: 0, Name: "label", Value: models.Text("lot-7"), Value2: models.StringPtr("")},
		{Sequence: 4, EntityID: 11, IndexID: 1, Name: "blob", Value: models.Bytes([]byte{0, 1, 2})},
		{Sequence: 5, EntityID: 12, IndexID: 0, Name: "missing", Value: models.Null()},
	})
	env.Metadata.Set("source", models.Text("ritdb1"))
	env.Metadata.Set("run", models.Integer(3))
	env.Metadata.Set("alpha", models.Null())
	return env
}
