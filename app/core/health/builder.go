package health

import (
	"context"
	"sort"
	"time"

	config "pulsedash/app/configs"
	"pulsedash/app/core/gmail"
	"pulsedash/app/core/grain"
	"pulsedash/app/core/llm"
	"pulsedash/app/core/mappings"
	"pulsedash/app/pkg/logger"
)

// RecordingSource yields the full call-recording set for matching.
type RecordingSource interface {
	Recordings(ctx context.Context) []grain.Recording
}

// EmailSource searches the shared mailbox for one client's correspondence.
type EmailSource interface {
	SearchClient(ctx context.Context, client string, domains, keywords []string) []gmail.Email
}

// SentimentSource classifies a client's recent emails.
type SentimentSource interface {
	Sentiment(ctx context.Context, client string, emails []gmail.Email) llm.Sentiment
}

type EmailSummary struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

type CallSummary struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	URL   string `json:"url"`
}

type Communication struct {
	DaysSinceEmail      *int           `json:"days_since_email"`
	DaysSinceCall       *int           `json:"days_since_call"`
	DaysSinceTouchpoint *int           `json:"days_since_touchpoint"`
	EmailSentiment      string         `json:"email_sentiment"`
	SentimentReason     string         `json:"sentiment_reason"`
	LastEmailDate       *string        `json:"last_email_date"`
	LastCallDate        *string        `json:"last_call_date"`
	RecentEmails        []EmailSummary `json:"recent_emails"`
	RecentCalls         []CallSummary  `json:"recent_calls"`
}

// Client is one account's full dashboard record: the verdict plus the raw
// summaries it was derived from.
type Client struct {
	Name           string        `json:"name"`
	Health         Verdict       `json:"health"`
	AccountManager string        `json:"account_manager"`
	Tasks          TaskMetrics   `json:"tasks"`
	Communication  Communication `json:"communication"`
}

type Summary struct {
	Total  int `json:"total"`
	Red    int `json:"red"`
	Yellow int `json:"yellow"`
	Green  int `json:"green"`
}

type Payload struct {
	Clients     []Client `json:"clients"`
	Summary     Summary  `json:"summary"`
	LastUpdated string   `json:"last_updated"`
}

// Keep only the freshest few items in each per-client history.
const maxRecentItems = 5

// Builder aggregates tasks, calls, emails and sentiment into the health
// payload. Every source degrades independently: a dead recording service
// means "no call data", not a failed pass.
type Builder struct {
	cfg        *config.Manager
	tasks      TaskSource
	recordings RecordingSource
	emails     EmailSource
	sentiment  SentimentSource
	mappings   *mappings.Store
	now        func() time.Time
}

func NewBuilder(cfg *config.Manager, tasks TaskSource, recordings RecordingSource, emails EmailSource, sentiment SentimentSource, maps *mappings.Store) *Builder {
	return &Builder{
		cfg:        cfg,
		tasks:      tasks,
		recordings: recordings,
		emails:     emails,
		sentiment:  sentiment,
		mappings:   maps,
		now:        time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

type callData struct {
	last   time.Time
	recent []CallSummary
}

// Build runs one full health pass over all active accounts.
func (b *Builder) Build(ctx context.Context) Payload {
	cfg := b.cfg.Get()
	now := b.now().UTC()
	maps := b.mappings.Load()

	accounts := FetchActiveAccounts(ctx, b.tasks, cfg)
	if len(accounts.Clients) == 0 {
		logger.Error("No active accounts found; health dashboard will be empty")
	}
	tasksByClient := FetchClientTasks(ctx, b.tasks, cfg, accounts.Clients)
	calls := b.collectCalls(ctx, accounts.Clients, maps.GrainMatches)

	var clients []Client
	for _, name := range accounts.Clients {
		taskMetrics := AnalyzeTasks(tasksByClient[name], now)

		rule := maps.EmailDomains[name]
		emails := b.emails.SearchClient(ctx, name, rule.Domains, rule.Keywords)
		sentiment := b.sentiment.Sentiment(ctx, name, emails)

		comm := Communication{
			EmailSentiment:  sentiment.Rating,
			SentimentReason: sentiment.Reason,
			RecentEmails:    summarizeEmails(emails),
		}
		if latest, ok := gmail.Latest(emails); ok {
			comm.DaysSinceEmail = daysSince(now, latest.Date)
			comm.LastEmailDate = rfc3339(latest.Date)
		}
		if cd, ok := calls[name]; ok {
			comm.DaysSinceCall = daysSince(now, cd.last)
			comm.LastCallDate = rfc3339(cd.last)
			comm.RecentCalls = cd.recent
		}
		if touchpoint, known := Touchpoint(comm.DaysSinceEmail, comm.DaysSinceCall); known {
			comm.DaysSinceTouchpoint = &touchpoint
		}

		clients = append(clients, Client{
			Name:           name,
			Health:         CalculateHealth(taskMetrics.Overdue, comm.DaysSinceEmail, comm.DaysSinceCall, sentiment.Rating, cfg.Health),
			AccountManager: accounts.Managers[name],
			Tasks:          taskMetrics,
			Communication:  comm,
		})
	}

	sortClients(clients)

	payload := Payload{
		Clients:     clients,
		LastUpdated: now.Format(time.RFC3339),
	}
	payload.Summary.Total = len(clients)
	for _, c := range clients {
		switch c.Health.Status {
		case StatusRed:
			payload.Summary.Red++
		case StatusYellow:
			payload.Summary.Yellow++
		case StatusGreen:
			payload.Summary.Green++
		}
	}
	logger.Info("Client health built: %d clients (%d red, %d yellow, %d green)",
		payload.Summary.Total, payload.Summary.Red, payload.Summary.Yellow, payload.Summary.Green)
	return payload
}

// collectCalls matches every recording to a client and keeps, per client,
// the latest call date and a short recent-call history.
func (b *Builder) collectCalls(ctx context.Context, clients []string, manual map[string]string) map[string]*callData {
	byClient := map[string]*callData{}
	for _, rec := range b.recordings.Recordings(ctx) {
		matched := grain.MatchClient(rec, clients, manual)
		if matched == "" || rec.Date.IsZero() {
			continue
		}
		cd, ok := byClient[matched]
		if !ok {
			cd = &callData{}
			byClient[matched] = cd
		}
		if rec.Date.After(cd.last) {
			cd.last = rec.Date
		}
		cd.recent = append(cd.recent, CallSummary{
			Title: rec.Title,
			Date:  rec.Date.Format(time.RFC3339),
			URL:   rec.URL,
		})
	}

	for _, cd := range byClient {
		sort.Slice(cd.recent, func(i, j int) bool { return cd.recent[i].Date > cd.recent[j].Date })
		if len(cd.recent) > maxRecentItems {
			cd.recent = cd.recent[:maxRecentItems]
		}
	}
	return byClient
}

func summarizeEmails(emails []gmail.Email) []EmailSummary {
	var out []EmailSummary
	for i, e := range emails {
		if i == maxRecentItems {
			break
		}
		summary := EmailSummary{Subject: e.Subject, From: e.From, Snippet: e.Snippet}
		if !e.Date.IsZero() {
			summary.Date = e.Date.Format(time.RFC3339)
		}
		out = append(out, summary)
	}
	return out
}

// sortClients orders the dashboard worst-first: red, yellow, green, then by
// name within each band.
func sortClients(clients []Client) {
	rank := map[string]int{StatusRed: 0, StatusYellow: 1, StatusGreen: 2}
	sort.Slice(clients, func(i, j int) bool {
		ri, rj := rank[clients[i].Health.Status], rank[clients[j].Health.Status]
		if ri != rj {
			return ri < rj
		}
		return clients[i].Name < clients[j].Name
	})
}

func daysSince(now, t time.Time) *int {
	days := int(now.Sub(t).Hours() / 24)
	return &days
}

func rfc3339(t time.Time) *string {
	s := t.Format(time.RFC3339)
	return &s
}
