package main

import (
	"flag"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// multiValue is a flag that takes a fixed number of values. They may be given comma-separated
// ("-r 20,20") or as separate arguments ("-r 20 20"); parseArgs collects the latter.
type multiValue struct {
	name   string
	want   int
	values []string
	last   **multiValue // Records the most recently set multiValue.
}

func (m *multiValue) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(m.values, ",")
}

func (m *multiValue) Set(s string) error {
	if len(m.values) >= m.want {
		return errors.Errorf("-%s given more than once", m.name)
	}
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			m.values = append(m.values, v)
		}
	}
	if len(m.values) > m.want {
		return errors.Errorf("-%s takes %d values", m.name, m.want)
	}
	*m.last = m
	return nil
}

// pending is the number of values still missing.
func (m *multiValue) pending() int {
	return m.want - len(m.values)
}

// complete reports whether the flag was either not used or given all of its values.
func (m *multiValue) complete() bool {
	return len(m.values) == 0 || m.pending() == 0
}

func (m *multiValue) ints() ([]int, error) {
	vals := make([]int, len(m.values))
	for i, v := range m.values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Errorf("-%s: invalid integer %q", m.name, v)
		}
		vals[i] = n
	}
	return vals, nil
}

// listValue is a comma-separated list flag.
type listValue []string

func (l *listValue) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listValue) Set(s string) error {
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

// parseArgs parses args with fs. Positional arguments directly following a multiValue flag
// are consumed as its remaining values, after which parsing resumes. Returns the remaining
// positional arguments.
func parseArgs(fs *flag.FlagSet, args []string, last **multiValue) ([]string, error) {
	for {
		*last = nil
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()

		m := *last
		if m == nil || m.pending() == 0 || len(rest) == 0 {
			return rest, nil
		}
		for m.pending() > 0 && len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
			m.values = append(m.values, rest[0])
			rest = rest[1:]
		}
		if m.pending() > 0 {
			return nil, errors.Errorf("-%s takes %d values", m.name, m.want)
		}
		args = rest
	}
}
