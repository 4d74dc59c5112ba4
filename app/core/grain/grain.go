package grain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	config "pulsedash/app/configs"
	"pulsedash/app/pkg/logger"
)

const defaultAPIRoot = "https://api.grain.com/_/public-api"

// Recording is one call pulled from the recording service. Date is zero when
// the upstream record carried no parseable timestamp.
type Recording struct {
	ID    string
	Title string
	Date  time.Time
	URL   string
	Notes string
}

// Client pages through the recording service. Failures surface as a shorter
// (or empty) recording list, never as an error; the health pass degrades to
// "no call data" instead of aborting.
type Client struct {
	apiRoot    string
	cfg        config.GrainConfig
	httpClient *http.Client
}

func NewClient(cfg config.GrainConfig) *Client {
	return &Client{
		apiRoot:    defaultAPIRoot,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// SetAPIRoot points the client at a different base URL. Tests only.
func (c *Client) SetAPIRoot(root string) {
	c.apiRoot = strings.TrimRight(root, "/")
}

// Recordings fetches all recordings, following the pagination cursor up to
// the configured page cap.
func (c *Client) Recordings(ctx context.Context) []Recording {
	if c.cfg.APIKey == "" {
		logger.Error("Grain API key not configured; skipping call data")
		return nil
	}

	var (
		all    []Recording
		cursor string
	)
	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{"limit": {fmt.Sprint(c.cfg.PageSize)}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		data, ok := c.request(ctx, "/recordings?"+params.Encode())
		if !ok {
			break
		}

		records := data.Get("recordings").Array()
		if len(records) == 0 {
			records = data.Get("data").Array()
		}
		if len(records) == 0 {
			break
		}
		for _, rec := range records {
			all = append(all, parseRecording(rec))
		}

		cursor = firstString(data, "cursor", "nextCursor", "next_cursor")
		if cursor == "" {
			break
		}
	}

	logger.Info("Fetched %d Grain recordings", len(all))
	return all
}

func (c *Client) request(ctx context.Context, endpoint string) (gjson.Result, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiRoot+endpoint, nil)
	if err != nil {
		logger.Error("Grain request build failed for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Grain transport error for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("Grain read error for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	if resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		logger.Error("Grain HTTP %d for %s: %s", resp.StatusCode, endpoint, snippet)
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(body) {
		logger.Error("Grain invalid JSON for %s", endpoint)
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

func parseRecording(rec gjson.Result) Recording {
	title := rec.Get("title").String()
	if title == "" {
		title = rec.Get("name").String()
	}
	recURL := rec.Get("url").String()
	if recURL == "" {
		recURL = rec.Get("link").String()
	}
	return Recording{
		ID:    rec.Get("id").String(),
		Title: title,
		Date:  parseDate(rec),
		URL:   recURL,
		Notes: rec.Get("intelligence_notes_md").String(),
	}
}

// parseDate tries the timestamp fields the service has used across API
// revisions, as either epoch seconds, epoch milliseconds or RFC 3339.
func parseDate(rec gjson.Result) time.Time {
	for _, field := range []string{"date", "created_at", "start_time", "timestamp"} {
		v := rec.Get(field)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type == gjson.Number {
			n := v.Int()
			if n > 1e12 {
				return time.UnixMilli(n).UTC()
			}
			if n > 0 {
				return time.Unix(n, 0).UTC()
			}
			continue
		}
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func firstString(data gjson.Result, fields ...string) string {
	for _, f := range fields {
		if v := data.Get(f).String(); v != "" {
			return v
		}
	}
	return ""
}

// MatchClient finds which client a recording belongs to. A manual match on
// the recording id wins; otherwise the title and meeting notes are scanned,
// and a client matches when its full name appears, or every word of a
// multi-word name appears somewhere in the text. Returns "" for no match.
func MatchClient(rec Recording, clients []string, manual map[string]string) string {
	if client, ok := manual[rec.ID]; ok {
		return client
	}

	searchable := strings.ToLower(rec.Title + " " + rec.Notes)
	for _, client := range clients {
		clientLower := strings.ToLower(client)
		if strings.Contains(searchable, clientLower) {
			return client
		}
		words := strings.Fields(clientLower)
		if len(words) > 1 && allWordsPresent(searchable, words) {
			return client
		}
	}
	return ""
}

func allWordsPresent(text string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}
