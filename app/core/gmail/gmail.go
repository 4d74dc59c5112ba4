package gmail

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

const (
	defaultAPIRoot = "https://gmail.googleapis.com/gmail/v1"
	snippetMaxLen  = 200
)

// Email is one message matched during a client search.
type Email struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	Date    time.Time `json:"date"`
	Snippet string    `json:"snippet"`
}

// Client searches a delegated mailbox for client correspondence. Failures
// surface as an empty result; the health pass treats that as "no recent
// emails" rather than an outage.
type Client struct {
	apiRoot    string
	cfg        config.GmailConfig
	httpClient *http.Client
}

func NewClient(cfg config.GmailConfig) *Client {
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

// SearchClient finds recent emails about a client. Domains and keywords from
// the mapping table widen the search beyond the bare client name; automated
// senders are dropped from the result.
func (c *Client) SearchClient(ctx context.Context, client string, domains, keywords []string) []Email {
	if c.cfg.AccessToken == "" {
		return nil
	}

	params := url.Values{
		"q":          {buildQuery(client, domains, keywords)},
		"maxResults": {fmt.Sprint(c.cfg.MaxResults)},
	}
	data, ok := c.request(ctx, fmt.Sprintf("/users/%s/messages?%s", c.cfg.Mailbox, params.Encode()))
	if !ok {
		return nil
	}

	var emails []Email
	for _, ref := range data.Get("messages").Array() {
		id := ref.Get("id").String()
		msg, ok := c.request(ctx, fmt.Sprintf("/users/%s/messages/%s?format=metadata&metadataHeaders=Subject&metadataHeaders=From&metadataHeaders=Date", c.cfg.Mailbox, id))
		if !ok {
			continue
		}
		email := parseMessage(id, msg)
		if c.isAutomatedSender(email.From) {
			continue
		}
		emails = append(emails, email)
	}
	return emails
}

// buildQuery widens the bare quoted client name with from: clauses for known
// domains and extra quoted keywords.
func buildQuery(client string, domains, keywords []string) string {
	terms := []string{fmt.Sprintf("%q", client)}
	for _, d := range domains {
		terms = append(terms, "from:"+d)
	}
	for _, k := range keywords {
		terms = append(terms, fmt.Sprintf("%q", k))
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

func parseMessage(id string, msg gjson.Result) Email {
	email := Email{ID: id, Subject: "(no subject)"}
	for _, h := range msg.Get("payload.headers").Array() {
		switch h.Get("name").String() {
		case "Subject":
			if v := h.Get("value").String(); v != "" {
				email.Subject = v
			}
		case "From":
			email.From = h.Get("value").String()
		}
	}
	if ms := msg.Get("internalDate").Int(); ms > 0 {
		email.Date = time.UnixMilli(ms).UTC()
	}
	email.Snippet = msg.Get("snippet").String()
	if len(email.Snippet) > snippetMaxLen {
		email.Snippet = email.Snippet[:snippetMaxLen]
	}
	return email
}

func (c *Client) isAutomatedSender(from string) bool {
	fromLower := strings.ToLower(from)
	for _, excluded := range c.cfg.ExcludedSenders {
		if strings.Contains(fromLower, strings.ToLower(excluded)) {
			return true
		}
	}
	return false
}

func (c *Client) request(ctx context.Context, endpoint string) (gjson.Result, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiRoot+endpoint, nil)
	if err != nil {
		logger.Error("Gmail request build failed for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Gmail transport error for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("Gmail read error for %s: %v", endpoint, err)
		return gjson.Result{}, false
	}
	if resp.StatusCode >= 300 {
		logger.Error("Gmail HTTP %d for %s", resp.StatusCode, endpoint)
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(body) {
		logger.Error("Gmail invalid JSON for %s", endpoint)
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(body), true
}

// Latest returns the most recent email in the set, or false when the set is
// empty or carries no dates.
func Latest(emails []Email) (Email, bool) {
	var (
		latest Email
		found  bool
	)
	for _, e := range emails {
		if e.Date.IsZero() {
			continue
		}
		if !found || e.Date.After(latest.Date) {
			latest = e
			found = true
		}
	}
	return latest, found
}
