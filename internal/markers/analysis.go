package markers

import (
	"slices"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Analysis is the result of folding a transactor's output.
type Analysis struct {
	Records []Record

	// Unterminated holds the lines of a trailing group that was opened
	// but never closed, typically because the transactor was stopped
	// mid-interval.
	Unterminated []string
}

// Analyze folds text into an Analysis.
func Analyze(text string) (*Analysis, error) {
	records, unterminated, err := Fold(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	return &Analysis{Records: records, Unterminated: unterminated}, nil
}

// Samples returns the durations of every record, in order.
func (a *Analysis) Samples() []float64 {
	samples := make([]float64, len(a.Records))
	for i, r := range a.Records {
		samples[i] = r.Duration
	}
	return samples
}

// Mean returns the arithmetic mean of the samples, or ErrNoSamples.
func (a *Analysis) Mean() (float64, error) {
	if len(a.Records) == 0 {
		return 0, ErrNoSamples
	}
	return stat.Mean(a.Samples(), nil), nil
}

// Middle returns the record at index len/2. With an even number of records
// this is the upper of the two middle records.
func (a *Analysis) Middle() (Record, bool) {
	if len(a.Records) == 0 {
		return Record{}, false
	}
	return a.Records[len(a.Records)/2], true
}

// Summary holds order statistics over the samples, in seconds.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
	P90    float64
	P99    float64
}

// Summary computes order statistics over the samples, or returns
// ErrNoSamples.
func (a *Analysis) Summary() (Summary, error) {
	return Summarize(a.Samples())
}

// Summarize computes order statistics over arbitrary samples. The input is
// not modified.
func Summarize(samples []float64) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrNoSamples
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	s := Summary{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	} else {
		s.Mean = sorted[0]
	}
	return s, nil
}
