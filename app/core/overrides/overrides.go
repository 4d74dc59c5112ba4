package overrides

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"pulsedash/app/pkg/logger"
)

var validRatings = map[string]bool{
	"positive":  true,
	"neutral":   true,
	"concerned": true,
	"negative":  true,
}

// Override is a manual replacement for a client's computed email sentiment.
type Override struct {
	Rating       string `json:"rating"`
	Reason       string `json:"reason"`
	OverriddenBy string `json:"overridden_by"`
	OverriddenAt string `json:"overridden_at"`
}

// Store persists sentiment overrides to a shared JSON file. Overrides are
// substituted at serve time only; the computed sentiment stays in the stored
// snapshot and reappears when the override is removed.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Load returns the saved overrides; a missing or corrupt file is an empty
// map, never an error.
func (s *Store) Load() map[string]Override {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() map[string]Override {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Error loading sentiment overrides: %v", err)
		}
		return map[string]Override{}
	}
	saved := map[string]Override{}
	if err := json.Unmarshal(data, &saved); err != nil {
		logger.Error("Corrupt sentiment overrides, ignoring: %v", err)
		return map[string]Override{}
	}
	return saved
}

// Save adds or replaces one client's override.
func (s *Store) Save(client, rating, reason, overriddenBy string) error {
	if strings.TrimSpace(client) == "" {
		return fmt.Errorf("overrides: client name is required")
	}
	rating = strings.ToLower(strings.TrimSpace(rating))
	if !validRatings[rating] {
		return fmt.Errorf("overrides: invalid rating %q", rating)
	}
	if strings.TrimSpace(overriddenBy) == "" {
		overriddenBy = "User"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.loadLocked()
	saved[client] = Override{
		Rating:       rating,
		Reason:       reason,
		OverriddenBy: overriddenBy,
		OverriddenAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.saveLocked(saved); err != nil {
		return err
	}
	logger.Info("Sentiment override saved: %s -> %s by %s", client, rating, overriddenBy)
	return nil
}

// Delete removes one client's override. Deleting an absent override is a
// no-op.
func (s *Store) Delete(client string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.loadLocked()
	if _, ok := saved[client]; !ok {
		return nil
	}
	delete(saved, client)
	if err := s.saveLocked(saved); err != nil {
		return err
	}
	logger.Info("Sentiment override removed: %s", client)
	return nil
}

func (s *Store) saveLocked(saved map[string]Override) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Apply rewrites a health payload so that overridden clients show the manual
// sentiment. The computed value moves to ai_sentiment fields for audit. The
// input is returned unchanged when no override matches.
func (s *Store) Apply(payload []byte) []byte {
	saved := s.Load()
	if len(saved) == 0 {
		return payload
	}

	clients := gjson.GetBytes(payload, "clients").Array()
	for i, client := range clients {
		ov, ok := saved[client.Get("name").String()]
		if !ok {
			continue
		}

		aiRating := client.Get("communication.email_sentiment").String()
		if aiRating == "" {
			aiRating = "neutral"
		}
		aiReason := client.Get("communication.sentiment_reason").String()

		var err error
		base := fmt.Sprintf("clients.%d", i)
		for _, set := range []struct {
			path  string
			value interface{}
		}{
			{base + ".ai_sentiment", aiRating},
			{base + ".ai_sentiment_reason", aiReason},
			{base + ".communication.email_sentiment", ov.Rating},
			{base + ".communication.sentiment_reason", ov.Reason},
			{base + ".sentiment_override", ov},
		} {
			payload, err = sjson.SetBytes(payload, set.path, set.value)
			if err != nil {
				logger.Error("Error applying sentiment override: %v", err)
				return payload
			}
		}
	}
	return payload
}
