package models

// Row is one record of the ritdb table. Rows are immutable once read.
type Row struct {
	Sequence int64
	EntityID int64
	IndexID  int64
	Name     string
	Value    Value
	// Value2 is nil when the column is NULL.
	Value2 *string
}

// Envelope is the unit that gets encoded and published as one message.
// Rows keep source order (ascending Sequence).
type Envelope struct {
	Metadata Metadata
	Rows     []Row
}

// NewEnvelope wraps rows with empty metadata.
func NewEnvelope(rows []Row) *Envelope {
	return &Envelope{Rows: rows}
}

// Cursor is the offset/limit pagination state of a run.
type Cursor struct {
	Offset   int64
	PageSize int64
}

// Advance moves the offset forward by the number of rows the last page returned.
func (c *Cursor) Advance(n int) {
	if n > 0 {
		c.Offset += int64(n)
	}
}

// StringPtr is a helper for building rows with a non-NULL value2.
func StringPtr(s string) *string {
	return &s
}
