package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ROIStep is one entry of the minimal ROI table.
type ROIStep struct {
	Minutes int
	Ratio   float64
}

// ROITable maps elapsed holding minutes to the minimal profit ratio for an exit.
// Steps are kept sorted by ascending minutes.
type ROITable []ROIStep

// NewROITable builds a table from a minutes->ratio map.
func NewROITable(m map[int]float64) ROITable {
	t := make(ROITable, 0, len(m))
	for minutes, ratio := range m {
		t = append(t, ROIStep{Minutes: minutes, Ratio: ratio})
	}
	sort.Slice(t, func(i, j int) bool { return t[i].Minutes < t[j].Minutes })
	return t
}

// ParseROITable parses the "0:0.04,20:0.02,30:0.01" form.
func ParseROITable(s string) (ROITable, error) {
	m := make(map[int]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid ROI entry %q", part)
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("invalid ROI minutes in %q", part)
		}
		ratio, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ROI ratio in %q", part)
		}
		m[minutes] = ratio
	}
	return NewROITable(m), nil
}

// Lookup returns the ratio of the largest threshold not exceeding elapsedMinutes.
// ok is false when no threshold applies yet.
func (t ROITable) Lookup(elapsedMinutes float64) (ratio float64, ok bool) {
	for _, step := range t {
		if float64(step.Minutes) > elapsedMinutes {
			break
		}
		ratio, ok = step.Ratio, true
	}
	return ratio, ok
}

// String renders the table in the parseable form.
func (t ROITable) String() string {
	parts := make([]string, len(t))
	for i, s := range t {
		parts[i] = fmt.Sprintf("%d:%s", s.Minutes, strconv.FormatFloat(s.Ratio, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}
