package mappings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pulsedash/app/pkg/logger"
)

// EmailRule narrows a client's email search beyond its bare name.
type EmailRule struct {
	Domains  []string `json:"domains"`
	Keywords []string `json:"keywords"`
}

// Mappings is the hand-curated matching table for the health pass: per-client
// email search rules plus recording-id to client pins for calls the text
// matcher gets wrong.
type Mappings struct {
	EmailDomains map[string]EmailRule `json:"email_domains"`
	GrainMatches map[string]string    `json:"grain_matches"`
}

// Store persists the mapping table to a shared JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved mappings; a missing or corrupt file is an empty
// table, never an error.
func (s *Store) Load() Mappings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() Mappings {
	m := Mappings{
		EmailDomains: map[string]EmailRule{},
		GrainMatches: map[string]string{},
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Error loading client mappings: %v", err)
		}
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		logger.Error("Corrupt client mappings, ignoring: %v", err)
		return Mappings{EmailDomains: map[string]EmailRule{}, GrainMatches: map[string]string{}}
	}
	if m.EmailDomains == nil {
		m.EmailDomains = map[string]EmailRule{}
	}
	if m.GrainMatches == nil {
		m.GrainMatches = map[string]string{}
	}
	return m
}

// Save persists the whole table.
func (s *Store) Save(m Mappings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(m)
}

func (s *Store) saveLocked(m Mappings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return err
	}
	logger.Info("Client mappings saved")
	return nil
}

// SaveEmailRule replaces one client's email search rule.
func (s *Store) SaveEmailRule(client string, rule EmailRule) error {
	if strings.TrimSpace(client) == "" {
		return fmt.Errorf("mappings: client name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadLocked()
	m.EmailDomains[client] = rule
	return s.saveLocked(m)
}

// SaveGrainMatch pins one recording to a client.
func (s *Store) SaveGrainMatch(recordingID, client string) error {
	if strings.TrimSpace(recordingID) == "" || strings.TrimSpace(client) == "" {
		return fmt.Errorf("mappings: recording id and client are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.loadLocked()
	m.GrainMatches[recordingID] = client
	return s.saveLocked(m)
}

// EmailRuleFor returns the email search rule for a client, if one is saved.
func (s *Store) EmailRuleFor(client string) (EmailRule, bool) {
	m := s.Load()
	rule, ok := m.EmailDomains[client]
	return rule, ok
}
