package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// turnStats tallies how the scenario turns resolved: end state, relaxation level, in-band errors.
type turnStats struct {
	mu             sync.Mutex
	turns          int
	states         map[string]int
	levels         map[int]int
	noAvailability int
	errors         map[string]int
	flagged        int
}

func newTurnStats() *turnStats {
	return &turnStats{states: map[string]int{}, levels: map[int]int{}, errors: map[string]int{}}
}

func (s *turnStats) record(resp turnResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	s.states[resp.NextState]++
	switch {
	case resp.Fallback != nil && resp.Fallback.NoAvailability:
		s.noAvailability++
	case resp.Fallback != nil:
		s.levels[resp.Fallback.Level]++
	case len(resp.Cards) > 0:
		s.levels[0]++
	}
	if resp.Error != nil {
		s.errors[resp.Error.Code]++
	}
	if len(resp.Flags) > 0 {
		s.flagged++
	}
}

func (s *turnStats) write(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(w, "turns=%d flagged=%d no_availability=%d\n", s.turns, s.flagged, s.noAvailability)
	if len(s.states) > 0 {
		fmt.Fprintf(w, "states: %s\n", joinCounts(s.states))
	}
	if len(s.levels) > 0 {
		levels := make([]int, 0, len(s.levels))
		for l := range s.levels {
			levels = append(levels, l)
		}
		sort.Ints(levels)
		parts := make([]string, len(levels))
		for i, l := range levels {
			parts[i] = fmt.Sprintf("L%d=%d", l, s.levels[l])
		}
		fmt.Fprintf(w, "relaxation: %s\n", strings.Join(parts, " "))
	}
	if len(s.errors) > 0 {
		fmt.Fprintf(w, "errors: %s\n", joinCounts(s.errors))
	}
}

func joinCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
