package bench

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/twmb/eosbench/internal/markers"
)

// Banner writes the description of the run's mode.
func Banner(w io.Writer, serial bool) {
	if serial {
		fmt.Fprintln(w, "Running in SERIAL mode")
		fmt.Fprintln(w, "The input producer will wait for the reply of the transactor before producing the next message.")
		return
	}
	fmt.Fprintln(w, "Running in PARALLEL mode")
	fmt.Fprintln(w, "The input producer will produce all messages in parallel (at once) after the first message.")
}

// ReportOpts tunes Report.
type ReportOpts struct {
	// FullOutput appends the transactor's complete output.
	FullOutput bool
}

// Report writes the human readable results of a run.
func (res *Result) Report(w io.Writer, opts ReportOpts) {
	if d := res.Driver; d != nil {
		fmt.Fprintf(w, "Processing took %v\n", d.Elapsed())
		if len(d.RoundTrips) > 0 {
			fmt.Fprintf(w, "Round trips: %s\n", formatSummary(durationSamples(d.RoundTrips)))
		}
	}

	if a := res.Analysis; a != nil {
		fmt.Fprintf(w, "\nMarker durations: %s\n", formatSamples(a.Samples()))
		mean, err := a.Mean()
		if errors.Is(err, markers.ErrNoSamples) {
			fmt.Fprintln(w, "Marker durations average: n/a (the transactor logged no markers)")
		} else {
			fmt.Fprintf(w, "Marker durations average: %g\n", mean)
			fmt.Fprintf(w, "Marker durations summary: %s\n", formatSummary(a.Samples()))
		}
		if len(a.Unterminated) > 0 {
			fmt.Fprintf(w, "Unterminated marker group (%d lines) ignored\n", len(a.Unterminated))
		}

		if mid, ok := a.Middle(); ok {
			fmt.Fprintf(w, "\nRelevant log snippet from the middle (marker %d of %d, %q):\n", mid.Index+1, len(a.Records), mid.Label)
			fmt.Fprintln(w, strings.Join(mid.Lines, "\n"))
		}
	}

	if opts.FullOutput && res.Output != "" {
		fmt.Fprintln(w, "\nFull output of the transactor:")
		fmt.Fprint(w, res.Output)
		if !strings.HasSuffix(res.Output, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func durationSamples(ds []time.Duration) []float64 {
	s := make([]float64, len(ds))
	for i, d := range ds {
		s[i] = d.Seconds()
	}
	return s
}

func formatSamples(samples []float64) string {
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = fmt.Sprintf("%g", s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatSummary(samples []float64) string {
	s, err := markers.Summarize(samples)
	if err != nil {
		return "n/a"
	}
	return fmt.Sprintf("n=%d min=%.6fs median=%.6fs mean=%.6fs p90=%.6fs p99=%.6fs max=%.6fs stddev=%.6fs",
		s.Count, s.Min, s.Median, s.Mean, s.P90, s.P99, s.Max, s.StdDev)
}
