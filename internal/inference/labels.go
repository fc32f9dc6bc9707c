package inference

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNoLabels is returned when a label resource holds no usable labels
var ErrNoLabels = errors.New("label table is empty")

// LabelTable is the ordered, immutable list of labels the model's output is aligned to
type LabelTable struct {
	labels []string
}

// NewLabelTable copies labels into a table. Empty entries keep their slot but never match.
func NewLabelTable(labels []string) (*LabelTable, error) {
	out := make([]string, len(labels))
	nonEmpty := 0
	for i, l := range labels {
		out[i] = normalizeLabel(l)
		if out[i] != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil, ErrNoLabels
	}
	return &LabelTable{labels: out}, nil
}

// LoadLabels reads a label file from disk
func LoadLabels(path string) (*LabelTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels %s: %w", path, err)
	}
	defer file.Close()

	table, err := ParseLabels(file)
	if err != nil {
		return nil, fmt.Errorf("parse labels %s: %w", path, err)
	}
	return table, nil
}

// ParseLabels reads one label per line. Lines may be "index:label"; the text after the last
// colon is the label. Line position, not the written index, decides the slot.
func ParseLabels(r io.Reader) (*LabelTable, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if i := strings.LastIndex(line, ":"); i >= 0 {
			line = line[i+1:]
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// trailing blank lines are not slots
	for len(labels) > 0 && strings.TrimSpace(labels[len(labels)-1]) == "" {
		labels = labels[:len(labels)-1]
	}
	return NewLabelTable(labels)
}

// Len returns the number of slots in the table
func (t *LabelTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.labels)
}

// Label returns the label at index i, or false when i is out of range
func (t *LabelTable) Label(i int) (string, bool) {
	if t == nil || i < 0 || i >= len(t.labels) {
		return "", false
	}
	return t.labels[i], true
}

// Labels returns a copy of all labels
func (t *LabelTable) Labels() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.labels...)
}

func normalizeLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
