package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

var binaryPrefixes = [...]string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi", "Yi"}

// Summary is the post-run report derived from an Accumulator.
type Summary struct {
	Start              time.Time
	End                time.Time
	CallCount          int64
	Rows               int64
	TotalElapsed       time.Duration
	TotalSerialization time.Duration
	// Averages are only meaningful when HasAverages is true (CallCount > 0).
	HasAverages          bool
	AverageCall          time.Duration
	AverageSerialization time.Duration
	AveragePayloadSize   float64
}

// Summarize computes averages over acc for a run between start and end.
func Summarize(acc *Accumulator, start, end time.Time) *Summary {
	s := &Summary{
		Start:              start,
		End:                end,
		CallCount:          acc.CallCount,
		Rows:               acc.Rows,
		TotalElapsed:       acc.TotalElapsed,
		TotalSerialization: acc.TotalSerialization,
		AveragePayloadSize: acc.AveragePayloadSize(),
	}
	if acc.CallCount > 0 {
		s.HasAverages = true
		s.AverageCall = acc.TotalElapsed / time.Duration(acc.CallCount)
		s.AverageSerialization = acc.TotalSerialization / time.Duration(acc.CallCount)
	}
	return s
}

// WallSeconds is the whole-second difference between end and start.
func (s *Summary) WallSeconds() int64 {
	return s.End.Unix() - s.Start.Unix()
}

// Log writes the summary lines.
func (s *Summary) Log(logger zerolog.Logger) {
	logger.Info().Time("end_time", s.End).Msg("End time")
	logger.Info().Int64("seconds", s.WallSeconds()).Msg("Total time")
	logger.Info().
		Dur("significant", s.TotalElapsed).
		Dur("serialization", s.TotalSerialization).
		Msg("Significant time (serialization + sending)")

	if !s.HasAverages {
		logger.Info().Msg("No batches published, averages skipped")
	} else {
		logger.Info().
			Dur("per_call", s.AverageCall).
			Dur("serialization_per_call", s.AverageSerialization).
			Int64("calls", s.CallCount).
			Int64("rows", s.Rows).
			Msg("Average time per call")
	}

	logger.Info().
		Str("size", FormatBinarySize(s.AveragePayloadSize)).
		Float64("bytes", s.AveragePayloadSize).
		Msg("Average body size")
}

// FormatBinarySize renders size with a magnitude prefix picked by
// floor(log10(size)/3) and the value scaled by 1000 per step, two decimals.
// Zero (or anything not positive) is reported as "0 B" without touching log10.
func FormatBinarySize(size float64) string {
	if !(size > 0) {
		return "0 B"
	}

	idx := int(math.Floor(math.Log10(size) / 3))
	// Log10 is off by an ulp on exact powers of ten (Log10(1000) < 3).
	if size >= math.Pow(1000, float64(idx+1)) {
		idx++
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(binaryPrefixes) {
		idx = len(binaryPrefixes) - 1
	}

	scaled := size / math.Pow(1000, float64(idx))
	return fmt.Sprintf("%.2f %sB", math.Round(scaled*100)/100, binaryPrefixes[idx])
}
