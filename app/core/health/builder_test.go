package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	config "pulsedash/app/configs"
	"pulsedash/app/core/gmail"
	"pulsedash/app/core/grain"
	"pulsedash/app/core/llm"
	"pulsedash/app/core/mappings"
)

var buildNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

type stubRecordings struct {
	recs []grain.Recording
}

func (s *stubRecordings) Recordings(context.Context) []grain.Recording { return s.recs }

type stubEmails struct {
	byClient map[string][]gmail.Email
}

func (s *stubEmails) SearchClient(_ context.Context, client string, _, _ []string) []gmail.Email {
	return s.byClient[client]
}

type stubSentiment struct {
	byClient map[string]llm.Sentiment
}

func (s *stubSentiment) Sentiment(_ context.Context, client string, _ []gmail.Email) llm.Sentiment {
	if v, ok := s.byClient[client]; ok {
		return v
	}
	return llm.Sentiment{Rating: "neutral"}
}

func testManager(t *testing.T) *config.Manager {
	t.Helper()
	m, err := config.NewManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// Roster fixture: Acme healthy, DCC with an ancient touchpoint and overdue
// work, Feast with no communication data at all.
func testBuilder(t *testing.T) *Builder {
	t.Helper()

	src := &stubSource{
		responses: map[string]string{
			"/list/": `{"tasks": [
				{"name": "Acme", "status": {"status": "engaged"}, "assignees": [{"username": "jake"}]},
				{"name": "DCC", "status": {"status": "engaged"}, "assignees": [{"username": "sean"}]},
				{"name": "Feast", "status": {"status": "new account"}, "assignees": []}
			]}`,
			"/space/": `{"folders": [
				{"name": "DCC", "lists": [{"id": "l1", "name": "Work"}]}
			]}`,
			"/folder/": `{"lists": []}`,
		},
		tasks: map[string]string{
			"l1": `{"tasks": [
				{"id": "t1", "name": "late one", "due_date": "1755432000000", "status": {"status": "in progress", "type": "custom"}},
				{"id": "t2", "name": "late two", "due_date": "1755432000000", "status": {"status": "in progress", "type": "custom"}}
			]}`,
		},
	}

	recs := &stubRecordings{recs: []grain.Recording{
		{ID: "r1", Title: "Acme weekly", Date: buildNow.AddDate(0, 0, -2), URL: "https://g/1"},
		{ID: "r2", Title: "DCC quarterly", Date: buildNow.AddDate(0, 0, -20)},
		{ID: "r3", Title: "Internal retro", Date: buildNow.AddDate(0, 0, -1)},
	}}

	emails := &stubEmails{byClient: map[string][]gmail.Email{
		"Acme": {{Subject: "Re: launch", From: "jane@acme.com", Date: buildNow.AddDate(0, 0, -1), Snippet: "all good"}},
	}}

	sentiment := &stubSentiment{byClient: map[string]llm.Sentiment{
		"Acme": {Rating: "positive", Reason: "Happy emails"},
	}}

	b := NewBuilder(testManager(t), src, recs, emails, sentiment,
		mappings.NewStore(filepath.Join(t.TempDir(), "client_mappings.json")))
	b.SetClock(func() time.Time { return buildNow })
	return b
}

func TestBuildAggregatesAllSources(t *testing.T) {
	payload := testBuilder(t).Build(context.Background())

	if payload.Summary.Total != 3 {
		t.Fatalf("total = %d, want 3", payload.Summary.Total)
	}
	if payload.Summary.Red != 1 || payload.Summary.Green != 2 {
		t.Fatalf("summary = %+v", payload.Summary)
	}
	if payload.LastUpdated == "" {
		t.Fatal("last_updated missing")
	}

	// Worst first: DCC has 2 overdue tasks and a 20-day-old call, which
	// escalates two yellows to red.
	dcc := payload.Clients[0]
	if dcc.Name != "DCC" || dcc.Health.Status != StatusRed || !dcc.Health.Escalated {
		t.Fatalf("first client = %s %+v", dcc.Name, dcc.Health)
	}
	if dcc.Tasks.Overdue != 2 {
		t.Fatalf("DCC overdue = %d", dcc.Tasks.Overdue)
	}
	if dcc.Communication.DaysSinceCall == nil || *dcc.Communication.DaysSinceCall != 20 {
		t.Fatalf("DCC days since call = %v", dcc.Communication.DaysSinceCall)
	}
	if dcc.Communication.DaysSinceEmail != nil {
		t.Fatal("DCC has no email data")
	}

	acme := findClient(t, payload, "Acme")
	if acme.Health.Status != StatusGreen {
		t.Fatalf("Acme = %+v", acme.Health)
	}
	if acme.Communication.EmailSentiment != "positive" || acme.AccountManager != "jake" {
		t.Fatalf("Acme = %+v", acme)
	}
	if acme.Communication.DaysSinceTouchpoint == nil || *acme.Communication.DaysSinceTouchpoint != 1 {
		t.Fatalf("Acme touchpoint = %v", acme.Communication.DaysSinceTouchpoint)
	}
	if len(acme.Communication.RecentCalls) != 1 || len(acme.Communication.RecentEmails) != 1 {
		t.Fatalf("Acme history = %+v", acme.Communication)
	}

	// No communication data at all means no touchpoint signal.
	feast := findClient(t, payload, "Feast")
	if feast.Health.Status != StatusGreen {
		t.Fatalf("Feast = %+v", feast.Health)
	}
	if feast.Communication.DaysSinceTouchpoint != nil {
		t.Fatal("Feast should carry no touchpoint")
	}
}

func TestBuildManualGrainMatchWins(t *testing.T) {
	b := testBuilder(t)
	maps := mappings.NewStore(filepath.Join(t.TempDir(), "client_mappings.json"))
	if err := maps.SaveGrainMatch("r3", "Feast"); err != nil {
		t.Fatalf("SaveGrainMatch: %v", err)
	}
	b.mappings = maps

	payload := b.Build(context.Background())
	feast := findClient(t, payload, "Feast")
	if feast.Communication.DaysSinceCall == nil || *feast.Communication.DaysSinceCall != 1 {
		t.Fatalf("Feast days since call = %v", feast.Communication.DaysSinceCall)
	}
}

func TestBuildEmptyUpstream(t *testing.T) {
	b := NewBuilder(testManager(t), &stubSource{}, &stubRecordings{}, &stubEmails{}, &stubSentiment{},
		mappings.NewStore(filepath.Join(t.TempDir(), "client_mappings.json")))
	b.SetClock(func() time.Time { return buildNow })

	payload := b.Build(context.Background())
	if payload.Summary.Total != 0 || len(payload.Clients) != 0 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.LastUpdated == "" {
		t.Fatal("last_updated missing")
	}
}

func findClient(t *testing.T, payload Payload, name string) Client {
	t.Helper()
	for _, c := range payload.Clients {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("client %s not in payload", name)
	return Client{}
}
