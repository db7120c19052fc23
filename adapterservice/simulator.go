package adapterservice

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bigjimnolan/softrains/statequeue"
)

// simulator holds the acknowledgments the adapter still owes.
type simulator struct {
	delay     time.Duration
	drop      statequeue.TargetMatcher
	dropEvery int
	received  int
	pending   map[string]pendingAck
}

func newSimulator(delay time.Duration, dropTargets []string, dropEvery int) (*simulator, error) {
	drop := func(string) bool { return false }
	if len(dropTargets) > 0 {
		m, err := statequeue.GlobMatcher(dropTargets...)
		if err != nil {
			return nil, err
		}
		drop = m
	}
	return &simulator{
		delay:     delay,
		drop:      drop,
		dropEvery: dropEvery,
		pending:   make(map[string]pendingAck),
	}, nil
}

// command takes a write and schedules its acknowledgment. A newer command
// for the same target replaces the pending one. It reports false for
// dropped writes.
func (s *simulator) command(target string, val any, now time.Time) bool {
	s.received++
	if s.drop(target) || (s.dropEvery > 0 && s.received%s.dropEvery == 0) {
		log.Debug().Msgf("dropping command %d: %s = %v", s.received, target, val)
		return false
	}
	s.pending[target] = pendingAck{Target: target, Val: val, Due: now.Add(s.delay)}
	return true
}

// due removes and returns the acknowledgments whose time has come, oldest
// first.
func (s *simulator) due(now time.Time) []pendingAck {
	var out []pendingAck
	for target, p := range s.pending {
		if !p.Due.After(now) {
			out = append(out, p)
			delete(s.pending, target)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out
}
