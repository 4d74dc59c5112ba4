package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	config "pulsedash/app/configs"
	"pulsedash/app/core/cache"
	"pulsedash/app/core/gmail"
	"pulsedash/app/core/metrics"
	"pulsedash/app/pkg/logger"
)

// Sentiment is the relationship-health read on a client's recent emails.
type Sentiment struct {
	Rating string `json:"rating"`
	Reason string `json:"reason"`
}

var validRatings = map[string]bool{
	"positive":  true,
	"neutral":   true,
	"concerned": true,
	"negative":  true,
}

// Classifier wraps the chat-completion API for the two text jobs the
// dashboard has: per-client email sentiment and sprint insights. Any API
// failure degrades to a neutral or explanatory answer, never an error.
type Classifier struct {
	api   openai.Client
	cfg   config.LLMConfig
	cache *cache.Cache
}

// NewClassifier builds a classifier whose sentiment answers are held for
// sentimentTTL per client.
func NewClassifier(cfg config.LLMConfig, sentimentTTL time.Duration) *Classifier {
	return &Classifier{
		api: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithRequestTimeout(time.Duration(cfg.TimeoutSec)*time.Second),
		),
		cfg:   cfg,
		cache: cache.New(sentimentTTL),
	}
}

// Sentiment classifies a client's recent emails, cached per client name.
func (c *Classifier) Sentiment(ctx context.Context, client string, emails []gmail.Email) Sentiment {
	if cached, ok := c.cache.Get(client); ok {
		return cached.(Sentiment)
	}

	result := c.classify(ctx, client, emails)
	c.cache.Set(client, result)
	return result
}

func (c *Classifier) classify(ctx context.Context, client string, emails []gmail.Email) Sentiment {
	if len(emails) == 0 {
		return Sentiment{Rating: "neutral", Reason: "No recent emails to analyze"}
	}
	if c.cfg.APIKey == "" {
		return Sentiment{Rating: "neutral", Reason: "No API key configured"}
	}

	var sb strings.Builder
	for i, e := range emails {
		if i == 5 {
			break
		}
		fmt.Fprintf(&sb, "Subject: %s\nSnippet: %s\n\n", e.Subject, e.Snippet)
	}
	prompt := fmt.Sprintf(
		"These are recent email communications about client %s. "+
			"Rate the client relationship health on this scale: positive, neutral, concerned, negative. "+
			"Respond with JSON only: {\"rating\": \"...\", \"reason\": \"one sentence explanation\"}\n\n%s",
		client, sb.String())

	text, err := c.complete(ctx, prompt, 100)
	if err != nil {
		logger.Error("Sentiment analysis failed for %s: %v", client, err)
		return Sentiment{Rating: "neutral", Reason: "Analysis unavailable"}
	}
	return ParseSentiment(text)
}

// ParseSentiment decodes the model's JSON answer. Markdown code fences are
// tolerated; an unknown rating degrades to neutral.
func ParseSentiment(text string) Sentiment {
	text = stripFences(text)
	parsed := gjson.Parse(text)

	rating := strings.ToLower(parsed.Get("rating").String())
	if !validRatings[rating] {
		rating = "neutral"
	}
	return Sentiment{Rating: rating, Reason: parsed.Get("reason").String()}
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// Insights turns a week's metrics and the velocity trend into a short
// actionable narrative for the team.
func (c *Classifier) Insights(ctx context.Context, snapshot metrics.WeeklySnapshot, velocity metrics.VelocityHistory) string {
	if c.cfg.APIKey == "" {
		return "AI insights require an API key to be configured."
	}

	text, err := c.complete(ctx, insightsPrompt(snapshot, velocity), 500)
	if err != nil {
		logger.Error("Insights generation failed: %v", err)
		return fmt.Sprintf("Could not generate insights: %v", err)
	}
	return text
}

func insightsPrompt(snapshot metrics.WeeklySnapshot, velocity metrics.VelocityHistory) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze this Agile sprint data and provide 2-3 brief, actionable insights for the team.\n\n")
	fmt.Fprintf(&sb, "## This Week's Metrics\n")
	fmt.Fprintf(&sb, "- Points Completed: %d\n", snapshot.Summary.PointsCompleted)
	fmt.Fprintf(&sb, "- Tasks Completed: %d\n", snapshot.Summary.TasksCompleted)
	fmt.Fprintf(&sb, "- Total Time Tracked: %v hours\n\n", snapshot.Summary.TotalTimeHours)

	fmt.Fprintf(&sb, "## Time vs Estimate by Score\n")
	for _, score := range []int{1, 2, 3, 5, 8, 13} {
		m := snapshot.ScoreMetrics[score]
		if m.ActualAvg != nil {
			fmt.Fprintf(&sb, "- %d points: Expected %v-%vhrs, Actual avg %vhrs (%d tasks)\n",
				score, m.ExpectedMin, m.ExpectedMax, *m.ActualAvg, m.TaskCount)
		} else {
			fmt.Fprintf(&sb, "- %d points: No completed tasks with time tracked\n", score)
		}
	}

	fmt.Fprintf(&sb, "\n## Velocity Trend (Last %d Weeks)\n", len(velocity.History))
	for _, week := range velocity.History {
		fmt.Fprintf(&sb, "- %s: %d points, %d tasks, %vhrs\n", week.Week, week.Points, week.Tasks, week.Hours)
	}

	fmt.Fprintf(&sb, "\nProvide insights in this format:\n")
	fmt.Fprintf(&sb, "1. [Efficiency observation about time tracking vs estimates]\n")
	fmt.Fprintf(&sb, "2. [Velocity trend observation]\n")
	fmt.Fprintf(&sb, "3. [One specific recommendation for improvement]\n\n")
	fmt.Fprintf(&sb, "Keep each insight to 1-2 sentences. Be direct and actionable.")
	return sb.String()
}

func (c *Classifier) complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.cfg.Model),
		MaxTokens: openai.Int(maxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
