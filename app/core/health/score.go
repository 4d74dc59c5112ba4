package health

import (
	"fmt"

	config "pulsedash/app/configs"
)

const (
	StatusRed    = "red"
	StatusYellow = "yellow"
	StatusGreen  = "green"
)

// Verdict is the three-state health call for one client account.
type Verdict struct {
	Status    string   `json:"status"`
	Reasons   []string `json:"reasons"`
	Escalated bool     `json:"escalated,omitempty"`
}

// CalculateHealth combines the overdue-task count, the freshest touchpoint
// (minimum of email and call recency, whichever are known) and the email
// sentiment into a verdict. Pure: same inputs, same verdict.
func CalculateHealth(overdue int, daysSinceEmail, daysSinceCall *int, sentiment string, cfg config.HealthConfig) Verdict {
	var red, yellow []string

	if overdue >= cfg.OverdueRedThreshold {
		red = append(red, fmt.Sprintf("%d overdue tasks", overdue))
	} else if overdue >= 1 {
		reason := fmt.Sprintf("%d overdue task", overdue)
		if overdue > 1 {
			reason += "s"
		}
		yellow = append(yellow, reason)
	}

	if touchpoint, known := Touchpoint(daysSinceEmail, daysSinceCall); known {
		if touchpoint > cfg.TouchpointRedDays {
			red = append(red, fmt.Sprintf("No touchpoint in %d days", touchpoint))
		} else if touchpoint > cfg.TouchpointYellowDays {
			yellow = append(yellow, fmt.Sprintf("Last touchpoint %d days ago", touchpoint))
		}
	}

	switch sentiment {
	case "negative":
		red = append(red, "Negative email sentiment")
	case "concerned", "mildly_negative":
		yellow = append(yellow, "Concerned email tone")
	}

	switch {
	case len(red) > 0:
		return Verdict{Status: StatusRed, Reasons: append(red, yellow...)}
	case len(yellow) >= 2:
		return Verdict{Status: StatusRed, Reasons: yellow, Escalated: true}
	case len(yellow) == 1:
		return Verdict{Status: StatusYellow, Reasons: yellow}
	default:
		return Verdict{Status: StatusGreen, Reasons: []string{"All healthy"}}
	}
}

// Touchpoint is the smaller of the two recency figures. known is false when
// neither channel has ever been seen for the client.
func Touchpoint(daysSinceEmail, daysSinceCall *int) (days int, known bool) {
	switch {
	case daysSinceEmail != nil && daysSinceCall != nil:
		if *daysSinceCall < *daysSinceEmail {
			return *daysSinceCall, true
		}
		return *daysSinceEmail, true
	case daysSinceEmail != nil:
		return *daysSinceEmail, true
	case daysSinceCall != nil:
		return *daysSinceCall, true
	}
	return 0, false
}
