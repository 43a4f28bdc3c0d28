package metrics

import "time"

// Accumulator collects per-batch measurements for one run.
// It has a single owner (the pipeline driver) and no locking.
type Accumulator struct {
	CallCount          int64
	Rows               int64
	TotalElapsed       time.Duration
	TotalSerialization time.Duration
	PayloadSizes       []int
}

// Record adds one successfully published batch. elapsed covers encoding
// and publishing; serialization is the encoding part alone.
func (a *Accumulator) Record(rows int, elapsed, serialization time.Duration, payloadSize int) {
	a.CallCount++
	a.Rows += int64(rows)
	a.TotalElapsed += elapsed
	a.TotalSerialization += serialization
	a.PayloadSizes = append(a.PayloadSizes, payloadSize)
}

// AveragePayloadSize is the mean of all recorded sizes, 0 when empty.
func (a *Accumulator) AveragePayloadSize() float64 {
	if len(a.PayloadSizes) == 0 {
		return 0
	}
	var sum float64
	for _, s := range a.PayloadSizes {
		sum += float64(s)
	}
	return sum / float64(len(a.PayloadSizes))
}
