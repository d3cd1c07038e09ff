package stage

import (
	"strings"
	"sync"
	"time"
)

// Stage is a pipeline classification for a chat.
type Stage string

const (
	StageContact Stage = "contatos"
	StageLead    Stage = "lead"
	StageHotLead Stage = "lead_quente"
)

// Stages is the fixed pipeline, in funnel order.
var Stages = []Stage{StageContact, StageLead, StageHotLead}

// Labels maps stages to their display names.
var Labels = map[Stage]string{
	StageContact: "Contatos",
	StageLead:    "Lead",
	StageHotLead: "Lead Quente",
}

// Normalize canonicalizes a free-text stage label from the backend. Unknown
// input maps to the base stage on purpose: an unclassified chat is a plain
// contact, not an error.
func Normalize(raw string) Stage {
	k := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(k, "contato"):
		return StageContact
	case strings.Contains(k, "quente"):
		return StageHotLead
	case k == "lead":
		return StageLead
	default:
		return StageContact
	}
}

// Record is one stage assignment.
type Record struct {
	Stage Stage
	At    time.Time
}

// Store holds stage assignments for the current session. An assignment has
// no TTL; it is only replaced by a newer classification result.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

func (s *Store) Get(chatID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[chatID]
	return rec, ok
}

func (s *Store) Has(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[chatID]
	return ok
}

// Set normalizes and records a classification result, overwriting any
// previous assignment for the chat.
func (s *Store) Set(chatID, raw string) Record {
	rec := Record{Stage: Normalize(raw), At: time.Now()}
	s.mu.Lock()
	s.records[chatID] = rec
	s.mu.Unlock()
	return rec
}

// Counts tallies the given chats by stage; a chat with no assignment counts
// as a base-stage contact.
func (s *Store) Counts(chatIDs []string) map[Stage]int {
	counts := make(map[Stage]int, len(Stages))
	for _, st := range Stages {
		counts[st] = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range chatIDs {
		st := StageContact
		if rec, ok := s.records[id]; ok {
			st = rec.Stage
		}
		counts[st]++
	}
	return counts
}

// Reset drops every assignment; used when a session ends.
func (s *Store) Reset() {
	s.mu.Lock()
	s.records = make(map[string]Record)
	s.mu.Unlock()
}
