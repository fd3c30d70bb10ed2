package confidence

import (
	"strings"
)

// Signals are the inputs the scorer combines. Score is a pure function of
// this struct: same signals, same output, no clocks, no randomness.
type Signals struct {
	// RawSignal is the provider's self-reported probability in [0,1];
	// nil when the provider exposes none.
	RawSignal *float64
	// QueryLen and ResponseLen are rune counts of the user query and the
	// generated response.
	QueryLen    int
	ResponseLen int
	// CitationCount is how many citations back the response.
	// ClaimsFactual marks a response whose content depends on retrieved
	// knowledge; chit-chat responses leave it false and skip the
	// citation component.
	CitationCount int
	ClaimsFactual bool
	// ResponseText is scanned for lexical contradiction markers.
	ResponseText string
}

const (
	weightRaw           = 0.5
	weightLengthRatio   = 0.1
	weightCitation      = 0.2
	weightContradiction = 0.2
)

var contradictionMarkers = []string{
	"i cannot find",
	"i am not sure",
	"i'm not sure",
	"i don't know",
	"as an ai",
	"contradict",
	"on the other hand, however",
	"this conflicts with",
}

// Score derives a [0,1] confidence from the signals. Components whose
// inputs are absent drop out and the remaining weights renormalize, so a
// provider without a raw signal is not punished for it.
func Score(s Signals) float64 {
	var sum, weights float64

	if s.RawSignal != nil {
		sum += weightRaw * clip01(*s.RawSignal)
		weights += weightRaw
	}

	sum += weightLengthRatio * lengthRatioScore(s.QueryLen, s.ResponseLen)
	weights += weightLengthRatio

	if s.ClaimsFactual {
		cited := 0.0
		if s.CitationCount > 0 {
			cited = 1.0
		}
		sum += weightCitation * cited
		weights += weightCitation
	}

	sum += weightContradiction * contradictionScore(s.ResponseText)
	weights += weightContradiction

	if weights == 0 {
		return 0
	}
	return clip01(sum / weights)
}

// lengthRatioScore sanity-checks the response length against the query.
// Near-empty responses score 0; responses within a sane band score 1;
// extreme verbosity degrades linearly.
func lengthRatioScore(queryLen, responseLen int) float64 {
	if responseLen < 2 {
		return 0
	}
	if queryLen <= 0 {
		return 1
	}
	ratio := float64(responseLen) / float64(queryLen)
	switch {
	case ratio < 0.1:
		return ratio / 0.1
	case ratio <= 50:
		return 1
	case ratio <= 200:
		return 1 - (ratio-50)/150
	default:
		return 0
	}
}

func contradictionScore(text string) float64 {
	lower := strings.ToLower(text)
	for _, m := range contradictionMarkers {
		if strings.Contains(lower, m) {
			return 0
		}
	}
	return 1
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
