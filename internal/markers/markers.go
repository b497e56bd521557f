// Package markers extracts timing intervals from the output of a transactor.
//
// A transactor brackets each interval it wants measured with two lines:
//
//	:DEMO:START <label>
//	...
//	:DEMO:END <label> <seconds>
//
// Lines between (and including) the two markers are kept as a group so that a
// representative excerpt can be shown next to the numbers.
package markers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// StartPrefix opens a marker group.
	StartPrefix = ":DEMO:START "
	// EndPrefix closes a marker group; the last field is the duration.
	EndPrefix = ":DEMO:END "
)

// ErrNoSamples is returned when a statistic is requested over zero samples.
var ErrNoSamples = errors.New("no timing samples")

// ParseError is returned when an end marker does not carry a trailing
// duration.
type ParseError struct {
	Line int    // 1-based line number in the scanned text
	Text string // the offending line
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: malformed end marker %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Record is one closed marker group.
type Record struct {
	Index    int
	Label    string
	Lines    []string
	Duration float64 // seconds
}

// folder is the accumulator for Fold. The zero value has no open group.
type folder struct {
	lineno  int
	open    bool
	label   string
	lines   []string
	records []Record
}

func (f *folder) step(line string) error {
	f.lineno++
	if strings.HasPrefix(line, StartPrefix) && !f.open {
		f.open = true
		f.label = markerLabel(line, StartPrefix)
		f.lines = nil
	}
	if f.open {
		f.lines = append(f.lines, line)
	}
	if !strings.HasPrefix(line, EndPrefix) {
		return nil
	}

	d, err := trailingDuration(line)
	if err != nil {
		return &ParseError{Line: f.lineno, Text: line, Err: err}
	}
	rec := Record{
		Index:    len(f.records),
		Label:    f.label,
		Lines:    f.lines,
		Duration: d,
	}
	if !f.open {
		rec.Label = markerLabel(line, EndPrefix)
		rec.Lines = []string{line}
	}
	f.records = append(f.records, rec)
	f.open = false
	f.label = ""
	f.lines = nil
	return nil
}

// Fold reads r line by line and returns every closed marker group in order.
// Lines belonging to a group that is never closed are returned separately.
// Lines may be of any length.
func Fold(r io.Reader) (records []Record, unterminated []string, err error) {
	var f folder
	br := bufio.NewReader(r)
	for {
		line, rerr := br.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if err := f.step(line); err != nil {
				return nil, nil, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, nil, fmt.Errorf("reading transactor output: %w", rerr)
		}
	}
	if f.open {
		unterminated = f.lines
	}
	return f.records, unterminated, nil
}

func markerLabel(line, prefix string) string {
	fields := strings.Fields(strings.TrimPrefix(line, prefix))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// trailingDuration parses the field after the final space on the line.
func trailingDuration(line string) (float64, error) {
	idx := strings.LastIndexByte(line, ' ')
	tail := line[idx+1:]
	if tail == "" {
		return 0, errors.New("missing duration")
	}
	return strconv.ParseFloat(tail, 64)
}
