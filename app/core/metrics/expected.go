package metrics

// ExpectedRange is the expected-hours band for one point score.
type ExpectedRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Mid float64 `json:"mid"`
}

// ExpectedHours maps each point score to its expected-hours band, the
// reference for efficiency classification.
var ExpectedHours = map[int]ExpectedRange{
	1:  {Min: 0.5, Max: 1, Mid: 0.75},
	2:  {Min: 1, Max: 2, Mid: 1.5},
	3:  {Min: 2, Max: 4, Mid: 3},
	5:  {Min: 4, Max: 8, Mid: 6},
	8:  {Min: 8, Max: 16, Mid: 12},
	13: {Min: 16, Max: 32, Mid: 24},
}

// Efficiency statuses.
const (
	StatusExceeding = "exceeding"
	StatusOnTrack   = "on_track"
	StatusOver      = "over"
	StatusNoData    = "no_data"
)

// ClassifyEfficiency buckets an average actual-hours figure against the
// expected band for the score. Below min is exceeding, within [min, max] is
// on track, above max is over.
func ClassifyEfficiency(score int, avgHours float64) string {
	expected, ok := ExpectedHours[score]
	if !ok {
		return StatusNoData
	}
	switch {
	case avgHours < expected.Min:
		return StatusExceeding
	case avgHours <= expected.Max:
		return StatusOnTrack
	default:
		return StatusOver
	}
}
