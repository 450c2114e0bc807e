package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// maxRecentSends bounds the send log carried into heartbeat prompts.
const maxRecentSends = 20

// SendRecord is one delivered proactive message.
type SendRecord struct {
	Summary string    `json:"summary"`
	SentAt  time.Time `json:"sent_at"`
}

type stateFile struct {
	LastProactiveSentAt time.Time    `json:"last_proactive_sent_at,omitempty"`
	RecentSends         []SendRecord `json:"recent_sends,omitempty"`
}

// State persists heartbeat delivery bookkeeping across restarts.
type State struct {
	path string
	data stateFile
}

// LoadState reads the state file; a missing or corrupt file starts fresh.
func LoadState(path string) *State {
	s := &State{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		s.data = stateFile{}
	}
	return s
}

// LastSentAt returns the time of the last delivered proactive message.
func (s *State) LastSentAt() time.Time {
	return s.data.LastProactiveSentAt
}

// RecentSends returns the bounded send log, newest last.
func (s *State) RecentSends() []SendRecord {
	out := make([]SendRecord, len(s.data.RecentSends))
	copy(out, s.data.RecentSends)
	return out
}

// SentToday counts deliveries within the calendar day of now in loc.
func (s *State) SentToday(now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc).Format("2006-01-02")
	count := 0
	for _, rec := range s.data.RecentSends {
		if rec.SentAt.In(loc).Format("2006-01-02") == today {
			count++
		}
	}
	return count
}

// RecordSend appends a delivery and persists atomically.
func (s *State) RecordSend(summary string, at time.Time) error {
	s.data.LastProactiveSentAt = at
	s.data.RecentSends = append(s.data.RecentSends, SendRecord{Summary: summary, SentAt: at})
	if len(s.data.RecentSends) > maxRecentSends {
		s.data.RecentSends = s.data.RecentSends[len(s.data.RecentSends)-maxRecentSends:]
	}
	return s.save()
}

func (s *State) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create heartbeat state dir: %w", err)
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode heartbeat state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write heartbeat state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace heartbeat state: %w", err)
	}
	return nil
}
