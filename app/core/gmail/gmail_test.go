package gmail

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	config "pulsedash/app/configs"
)

func testConfig() config.GmailConfig {
	return config.GmailConfig{
		AccessToken:     "tok",
		Mailbox:         "me",
		MaxResults:      5,
		ExcludedSenders: []string{"noreply@", "notifications@"},
		TimeoutSec:      5,
	}
}

func TestSearchClientFetchesMetadata(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "" {
			queries = append(queries, q)
			fmt.Fprint(w, `{"messages": [{"id": "m1"}, {"id": "m2"}]}`)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages/m1"):
			fmt.Fprint(w, `{"internalDate": "1756200000000", "snippet": "Thanks for the update",
				"payload": {"headers": [
					{"name": "Subject", "value": "Re: Campaign"},
					{"name": "From", "value": "Jane <jane@acme.com>"}
				]}}`)
		case strings.HasSuffix(r.URL.Path, "/messages/m2"):
			fmt.Fprint(w, `{"internalDate": "1756100000000", "snippet": "You have a new notification",
				"payload": {"headers": [
					{"name": "From", "value": "noreply@somesaas.com"}
				]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig())
	c.SetAPIRoot(srv.URL)

	emails := c.SearchClient(context.Background(), "Acme", nil, nil)
	if len(emails) != 1 {
		t.Fatalf("emails = %d, want 1 (automated sender dropped)", len(emails))
	}
	if emails[0].Subject != "Re: Campaign" {
		t.Fatalf("subject = %q", emails[0].Subject)
	}
	if emails[0].Date.IsZero() {
		t.Fatal("date did not parse")
	}
	if len(queries) != 1 || queries[0] != `"Acme"` {
		t.Fatalf("queries = %v", queries)
	}
}

func TestSearchClientUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(testConfig())
	c.SetAPIRoot(srv.URL)
	if emails := c.SearchClient(context.Background(), "Acme", nil, nil); emails != nil {
		t.Fatalf("emails = %v, want nil", emails)
	}
}

func TestSearchClientNoTokenSkips(t *testing.T) {
	cfg := testConfig()
	cfg.AccessToken = ""
	if emails := NewClient(cfg).SearchClient(context.Background(), "Acme", nil, nil); emails != nil {
		t.Fatalf("emails = %v, want nil", emails)
	}
}

func TestBuildQuery(t *testing.T) {
	if got := buildQuery("Acme", nil, nil); got != `"Acme"` {
		t.Fatalf("got %q", got)
	}
	got := buildQuery("Acme", []string{"acme.com"}, []string{"rebrand"})
	want := `("Acme" OR from:acme.com OR "rebrand")`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLatest(t *testing.T) {
	old := Email{ID: "a", Date: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	recent := Email{ID: "b", Date: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)}
	undated := Email{ID: "c"}

	got, ok := Latest([]Email{old, undated, recent})
	if !ok || got.ID != "b" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	if _, ok := Latest([]Email{undated}); ok {
		t.Fatal("undated-only set must report no latest")
	}
	if _, ok := Latest(nil); ok {
		t.Fatal("empty set must report no latest")
	}
}
