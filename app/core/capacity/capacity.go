package capacity

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	config "pulsedash/app/configs"
	"pulsedash/app/core/clickup"
	"pulsedash/app/pkg/logger"
)

// hoursPerPoint reflects the team's typical 5-8 point task distribution
// (a 5 averages 6h -> 1.2 h/pt, an 8 averages 12h -> 1.5 h/pt).
const hoursPerPoint = 1.5

const maxWeeklyHours = 168

// Store persists per-member weekly-hour overrides to a shared JSON file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved capacity map; a missing or corrupt file is an empty
// map, never an error.
func (s *Store) Load() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Error loading capacity config: %v", err)
		}
		return map[string]float64{}
	}
	saved := map[string]float64{}
	if err := json.Unmarshal(data, &saved); err != nil {
		logger.Error("Corrupt capacity config, ignoring: %v", err)
		return map[string]float64{}
	}
	return saved
}

// Save validates and persists the capacity map. Validation failures reject
// the whole payload before any write.
func (s *Store) Save(capacity map[string]float64) error {
	if len(capacity) == 0 {
		return fmt.Errorf("capacity: empty payload")
	}
	for name, hours := range capacity {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("capacity: member name is required")
		}
		if hours <= 0 || hours > maxWeeklyHours {
			return fmt.Errorf("capacity: invalid hours %v for %s", hours, name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(capacity, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return err
	}
	logger.Info("Capacity config saved: %d members", len(capacity))
	return nil
}

// BuildTeamCapacity merges the current roster with saved hours. Precedence:
// a saved override, then the onboarding table for a first-seen name, then the
// default.
func (s *Store) BuildTeamCapacity(members []clickup.Member, cfg config.CapacityConfig) map[string]float64 {
	saved := s.Load()
	capacity := make(map[string]float64, len(members))
	for _, member := range members {
		name := member.Username
		if name == "" {
			name = "Unknown"
		}
		switch {
		case saved[name] > 0:
			capacity[name] = saved[name]
		case cfg.KnownHourOverrides[name] > 0:
			capacity[name] = cfg.KnownHourOverrides[name]
		default:
			capacity[name] = float64(cfg.DefaultMemberHours)
		}
	}
	return capacity
}

// ExpectedPoints projects point throughput from available weekly hours.
func ExpectedPoints(totalHours float64) float64 {
	return math.Round(totalHours / hoursPerPoint)
}

// ExpectedTeamPoints aggregates the projection over every configured member.
func ExpectedTeamPoints(capacity map[string]float64) float64 {
	var total float64
	for _, hours := range capacity {
		total += hours
	}
	return ExpectedPoints(total)
}
