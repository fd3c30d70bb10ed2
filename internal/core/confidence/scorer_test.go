package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func raw(v float64) *float64 { return &v }

func TestScoreDeterministic(t *testing.T) {
	s := Signals{
		RawSignal:     raw(0.8),
		QueryLen:      30,
		ResponseLen:   120,
		CitationCount: 2,
		ClaimsFactual: true,
		ResponseText:  "Reset your password from the login page.",
	}
	first := Score(s)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Score(s), "same signals must yield the same score")
	}
}

func TestScoreAllComponentsPresent(t *testing.T) {
	got := Score(Signals{
		RawSignal:     raw(0.8),
		QueryLen:      30,
		ResponseLen:   120,
		CitationCount: 2,
		ClaimsFactual: true,
		ResponseText:  "Reset your password from the login page.",
	})
	// 0.5*0.8 + 0.1*1 + 0.2*1 + 0.2*1 over full weight.
	assert.InDelta(t, 0.9, got, 1e-9)
}

func TestScoreRenormalizesWithoutRawSignal(t *testing.T) {
	got := Score(Signals{
		QueryLen:      30,
		ResponseLen:   120,
		CitationCount: 1,
		ClaimsFactual: true,
		ResponseText:  "Reset your password from the login page.",
	})
	// All present components at 1.0 renormalize to 1.0, not 0.5.
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestScoreChitChatSkipsCitationComponent(t *testing.T) {
	withCitations := Score(Signals{
		QueryLen:     10,
		ResponseLen:  40,
		ResponseText: "You're welcome!",
	})
	// ClaimsFactual false: zero citations must not hurt the score.
	assert.InDelta(t, 1.0, withCitations, 1e-9)
}

func TestScoreUncitedFactualClaimPenalized(t *testing.T) {
	uncited := Score(Signals{
		QueryLen:      30,
		ResponseLen:   120,
		CitationCount: 0,
		ClaimsFactual: true,
		ResponseText:  "The limit is 5GB per account.",
	})
	cited := Score(Signals{
		QueryLen:      30,
		ResponseLen:   120,
		CitationCount: 1,
		ClaimsFactual: true,
		ResponseText:  "The limit is 5GB per account.",
	})
	assert.Less(t, uncited, cited)
}

func TestScoreContradictionMarkers(t *testing.T) {
	clean := Score(Signals{QueryLen: 30, ResponseLen: 120, ResponseText: "Here is the procedure."})
	hedged := Score(Signals{QueryLen: 30, ResponseLen: 120, ResponseText: "I'm not sure, but here is the procedure."})
	assert.Less(t, hedged, clean)
}

func TestLengthRatioScore(t *testing.T) {
	cases := []struct {
		name              string
		queryLen, respLen int
		want              float64
	}{
		{"near empty response", 50, 1, 0},
		{"tiny relative response", 100, 5, 0.5},
		{"sane band", 30, 120, 1},
		{"wide sane band upper", 10, 500, 1},
		{"verbose decay midpoint", 10, 1250, 0.5},
		{"extreme verbosity", 10, 3000, 0},
		{"zero query", 0, 40, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, lengthRatioScore(tc.queryLen, tc.respLen), 1e-9)
		})
	}
}

func TestScoreClipped(t *testing.T) {
	got := Score(Signals{
		RawSignal:    raw(7.5),
		QueryLen:     30,
		ResponseLen:  120,
		ResponseText: "fine",
	})
	assert.LessOrEqual(t, got, 1.0)
	assert.GreaterOrEqual(t, got, 0.0)
}
