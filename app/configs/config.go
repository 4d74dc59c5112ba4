package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	ClickUp  ClickUpConfig  `json:"clickup"`
	Grain    GrainConfig    `json:"grain"`
	Gmail    GmailConfig    `json:"gmail"`
	LLM      LLMConfig      `json:"llm"`
	Metrics  MetricsConfig  `json:"metrics"`
	Health   HealthConfig   `json:"health"`
	Capacity CapacityConfig `json:"capacity"`
	Refresh  RefreshConfig  `json:"refresh"`
	Server   ServerConfig   `json:"server"`
}

type ClickUpConfig struct {
	APIToken                 string   `json:"api_token"`
	TeamID                   string   `json:"team_id"`
	ScoreFieldID             string   `json:"score_field_id"`
	OperationsSpaceID        string   `json:"operations_space_id"`
	RecurringClientsFolderID string   `json:"recurring_clients_folder_id"`
	ActiveAccountsListID     string   `json:"active_accounts_list_id"`
	ExcludedFolders          []string `json:"excluded_folders"`
	CompanyEmailDomain       string   `json:"company_email_domain"`
	TimeoutSec               int      `json:"timeout_sec"`
}

type GrainConfig struct {
	APIKey     string `json:"api_key"`
	MaxPages   int    `json:"max_pages"`
	PageSize   int    `json:"page_size"`
	TimeoutSec int    `json:"timeout_sec"`
}

type GmailConfig struct {
	AccessToken      string   `json:"access_token"`
	Mailbox          string   `json:"mailbox"`
	MaxResults       int      `json:"max_results"`
	ExcludedSenders  []string `json:"excluded_senders"`
	TimeoutSec       int      `json:"timeout_sec"`
}

type LLMConfig struct {
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeout_sec"`
}

type MetricsConfig struct {
	Timezone          string   `json:"timezone"`
	ActiveStatuses    []string `json:"active_statuses"`
	ExcludedAssignees []string `json:"excluded_assignees"`
	HistoryWeeks      int      `json:"history_weeks"`
}

// HealthConfig carries the scoring thresholds. The business iterated on these
// values, so they live in config rather than in the scorer.
type HealthConfig struct {
	OverdueRedThreshold   int               `json:"overdue_red_threshold"`
	TouchpointRedDays     int               `json:"touchpoint_red_days"`
	TouchpointYellowDays  int               `json:"touchpoint_yellow_days"`
	ActiveAccountStatuses []string          `json:"active_account_statuses"`
	ShortNameAliases      map[string]string `json:"short_name_aliases"`
	ExcludedFolders       []string          `json:"excluded_folders"`
	CacheTTLSec           int               `json:"cache_ttl_sec"`
}

type CapacityConfig struct {
	DefaultMemberHours int                `json:"default_member_hours"`
	KnownHourOverrides map[string]float64 `json:"known_hour_overrides"`
}

type RefreshConfig struct {
	MetricsHour   int    `json:"metrics_hour"`
	MetricsMinute int    `json:"metrics_minute"`
	HealthHour    int    `json:"health_hour"`
	HealthMinute  int    `json:"health_minute"`
	Timezone      string `json:"timezone"`
}

type ServerConfig struct {
	Port       int    `json:"port"`
	ViewToken  string `json:"view_token"`
	AdminToken string `json:"admin_token"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ClickUp.APIToken) == "" {
		cfg.ClickUp.APIToken = os.Getenv("CLICKUP_API_TOKEN")
	}
	if strings.TrimSpace(cfg.ClickUp.TeamID) == "" {
		cfg.ClickUp.TeamID = os.Getenv("CLICKUP_TEAM_ID")
	}
	if strings.TrimSpace(cfg.ClickUp.ScoreFieldID) == "" {
		cfg.ClickUp.ScoreFieldID = os.Getenv("SCORE_FIELD_ID")
	}
	if len(cfg.ClickUp.ExcludedFolders) == 0 {
		cfg.ClickUp.ExcludedFolders = []string{"Client Template"}
	}
	if strings.TrimSpace(cfg.ClickUp.CompanyEmailDomain) == "" {
		cfg.ClickUp.CompanyEmailDomain = "@pulsemarketing.co"
	}
	if cfg.ClickUp.TimeoutSec <= 0 {
		cfg.ClickUp.TimeoutSec = 30
	}

	if strings.TrimSpace(cfg.Grain.APIKey) == "" {
		cfg.Grain.APIKey = os.Getenv("GRAIN_API_KEY")
	}
	if cfg.Grain.MaxPages <= 0 {
		cfg.Grain.MaxPages = 10
	}
	if cfg.Grain.PageSize <= 0 {
		cfg.Grain.PageSize = 100
	}
	if cfg.Grain.TimeoutSec <= 0 {
		cfg.Grain.TimeoutSec = 30
	}

	if strings.TrimSpace(cfg.Gmail.AccessToken) == "" {
		cfg.Gmail.AccessToken = os.Getenv("GMAIL_ACCESS_TOKEN")
	}
	if cfg.Gmail.MaxResults <= 0 {
		cfg.Gmail.MaxResults = 5
	}
	if len(cfg.Gmail.ExcludedSenders) == 0 {
		cfg.Gmail.ExcludedSenders = []string{
			"noreply@", "no-reply@", "notifications@", "mailer-daemon@", "calendar-notification@",
		}
	}
	if cfg.Gmail.TimeoutSec <= 0 {
		cfg.Gmail.TimeoutSec = 30
	}

	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.TimeoutSec <= 0 {
		cfg.LLM.TimeoutSec = 30
	}

	if strings.TrimSpace(cfg.Metrics.Timezone) == "" {
		cfg.Metrics.Timezone = "America/New_York"
	}
	if len(cfg.Metrics.ActiveStatuses) == 0 {
		cfg.Metrics.ActiveStatuses = []string{
			"in progress", "in review", "waiting response", "doing", "active", "working",
		}
	}
	if len(cfg.Metrics.ExcludedAssignees) == 0 {
		cfg.Metrics.ExcludedAssignees = []string{"Fazail Sabri"}
	}
	if cfg.Metrics.HistoryWeeks <= 0 {
		cfg.Metrics.HistoryWeeks = 8
	}

	if cfg.Health.OverdueRedThreshold <= 0 {
		cfg.Health.OverdueRedThreshold = 4
	}
	if cfg.Health.TouchpointRedDays <= 0 {
		cfg.Health.TouchpointRedDays = 14
	}
	if cfg.Health.TouchpointYellowDays <= 0 {
		cfg.Health.TouchpointYellowDays = 7
	}
	if len(cfg.Health.ActiveAccountStatuses) == 0 {
		cfg.Health.ActiveAccountStatuses = []string{"engaged", "new account"}
	}
	if cfg.Health.ShortNameAliases == nil {
		cfg.Health.ShortNameAliases = map[string]string{
			"dcc marketing":                    "DCC",
			"f.e.a.s.t.":                       "FEAST",
			"national association of anorexia": "ANAD",
		}
	}
	if len(cfg.Health.ExcludedFolders) == 0 {
		cfg.Health.ExcludedFolders = []string{
			"Client Template", "2-Day AI POCs", "Internal Projects", "Recurring Clients",
		}
	}
	if cfg.Health.CacheTTLSec <= 0 {
		cfg.Health.CacheTTLSec = 1800
	}

	if cfg.Capacity.DefaultMemberHours <= 0 {
		cfg.Capacity.DefaultMemberHours = 40
	}
	if cfg.Capacity.KnownHourOverrides == nil {
		cfg.Capacity.KnownHourOverrides = map[string]float64{
			"Luke Shumaker": 20,
			"Razvan Crisan": 10,
			"Adri Andika":   30,
		}
	}

	if cfg.Refresh.MetricsHour <= 0 {
		cfg.Refresh.MetricsHour = 14
	}
	if cfg.Refresh.MetricsMinute < 0 {
		cfg.Refresh.MetricsMinute = 0
	}
	if cfg.Refresh.HealthHour < 0 {
		cfg.Refresh.HealthHour = 0
	}
	if cfg.Refresh.HealthMinute < 0 {
		cfg.Refresh.HealthMinute = 0
	}
	if strings.TrimSpace(cfg.Refresh.Timezone) == "" {
		cfg.Refresh.Timezone = "America/New_York"
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if strings.TrimSpace(cfg.Server.ViewToken) == "" {
		cfg.Server.ViewToken = os.Getenv("DASHBOARD_VIEW_TOKEN")
	}
	if strings.TrimSpace(cfg.Server.AdminToken) == "" {
		cfg.Server.AdminToken = os.Getenv("DASHBOARD_ADMIN_TOKEN")
	}
}
