package nlp

import (
	"regexp"
	"sort"
	"strings"

	"github.com/relaydesk/relaydesk/internal/models"
)

// Extraction is the combined NLP result for one inbound message.
type Extraction struct {
	Intents   []models.ScoredIntent
	Ambiguous bool
	Emotion   string
	Intensity float64
	Negative  bool
	Entities  map[string]string
	Language  string
	// ChitChat marks messages with no groundable ask (greetings, thanks);
	// responses to them are exempt from the citation requirement.
	ChitChat bool
}

// Extractor runs lexical intent/sentiment/entity/language extraction.
// Deliberately cheap: it sits on the hot path in front of generation and
// must finish well inside the extraction deadline.
type Extractor struct {
	ambiguityGap float64
}

// NewExtractor builds an extractor; ambiguityGap is the score gap under
// which the top two intents are both reported (multi-intent).
func NewExtractor(ambiguityGap float64) *Extractor {
	return &Extractor{ambiguityGap: ambiguityGap}
}

var intentLexicon = map[string][]string{
	"password_reset":      {"password", "reset", "locked out", "forgot", "login", "log in", "sign in", "2fa"},
	"billing":             {"invoice", "charge", "charged", "refund", "billing", "payment", "credit card", "price"},
	"cancel_subscription": {"cancel", "unsubscribe", "downgrade", "terminate my"},
	"order_status":        {"order", "shipping", "delivery", "tracking", "shipped", "arrive"},
	"technical_issue":     {"error", "bug", "crash", "broken", "not working", "doesn't work", "fails", "failed"},
	"speak_to_human":      {"human", "agent", "real person", "representative", "speak to someone", "manager"},
	"account_update":      {"change my email", "update my", "edit my profile", "change address"},
	"greeting":            {"hello", "hi ", "hey", "good morning", "good afternoon", "thanks", "thank you"},
}

var negativeEmotionLexicon = map[string][]string{
	"anger":       {"angry", "furious", "outrage", "unacceptable", "ridiculous", "worst", "terrible", "hate"},
	"frustration": {"frustrat", "annoyed", "annoying", "again and again", "still broken", "fed up", "useless"},
	"anxiety":     {"worried", "urgent", "asap", "immediately", "deadline", "losing money"},
}

var positiveEmotionLexicon = map[string][]string{
	"joy": {"great", "awesome", "love", "perfect", "thank you", "thanks", "appreciate"},
}

var intensifiers = []string{"very", "extremely", "absolutely", "so ", "really", "completely", "totally"}

var entityPatterns = map[string]*regexp.Regexp{
	"email":    regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"order_id": regexp.MustCompile(`#[0-9]{4,}`),
	"phone":    regexp.MustCompile(`\+?[0-9][0-9\-\s]{7,14}[0-9]`),
	"url":      regexp.MustCompile(`https?://[^\s]+`),
}

// stopword samples per language, used for a crude language guess.
var languageStopwords = map[string][]string{
	"en": {" the ", " and ", " is ", " you ", " my ", " not "},
	"es": {" el ", " la ", " que ", " y ", " mi ", " no puedo "},
	"fr": {" le ", " la ", " je ", " ne ", " pas ", " mon "},
	"de": {" der ", " die ", " und ", " ich ", " nicht ", " mein "},
}

// Extract runs all analyzers over the message content. Pure and
// allocation-light; safe for concurrent use.
func (e *Extractor) Extract(content string) Extraction {
	lower := " " + strings.ToLower(content) + " "

	intents, ambiguous := e.classifyIntents(lower)
	emotion, intensity, negative := classifyEmotion(lower)
	entities := extractEntities(content)
	lang := detectLanguage(lower)

	chitchat := false
	if len(intents) > 0 && intents[0].Name == "greeting" {
		chitchat = true
	}
	if len(intents) == 0 && len(entities) == 0 {
		chitchat = true
	}

	return Extraction{
		Intents:   intents,
		Ambiguous: ambiguous,
		Emotion:   emotion,
		Intensity: intensity,
		Negative:  negative,
		Entities:  entities,
		Language:  lang,
		ChitChat:  chitchat,
	}
}

func (e *Extractor) classifyIntents(lower string) ([]models.ScoredIntent, bool) {
	var scored []models.ScoredIntent
	for name, kws := range intentLexicon {
		hits := 0
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(kws))
		if score > 1 {
			score = 1
		}
		scored = append(scored, models.ScoredIntent{Name: name, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Name < scored[j].Name
	})

	ambiguous := false
	if len(scored) >= 2 && scored[0].Score-scored[1].Score < e.ambiguityGap {
		ambiguous = true
	}
	// Keep the top intent, plus the runner-up when the gap is ambiguous.
	if len(scored) > 2 {
		scored = scored[:2]
	}
	if len(scored) == 2 && !ambiguous {
		scored = scored[:1]
	}
	return scored, ambiguous
}

func classifyEmotion(lower string) (emotion string, intensity float64, negative bool) {
	best := ""
	bestHits := 0
	neg := false
	for name, kws := range negativeEmotionLexicon {
		hits := countHits(lower, kws)
		if hits > bestHits {
			best, bestHits, neg = name, hits, true
		}
	}
	for name, kws := range positiveEmotionLexicon {
		hits := countHits(lower, kws)
		if hits > bestHits {
			best, bestHits, neg = name, hits, false
		}
	}
	if bestHits == 0 {
		return "neutral", 0.1, false
	}

	intensity = 0.4 + 0.2*float64(bestHits)
	for _, w := range intensifiers {
		if strings.Contains(lower, w) {
			intensity += 0.15
			break
		}
	}
	if strings.Contains(lower, "!!") || hasShouting(lower) {
		intensity += 0.15
	}
	if intensity > 1 {
		intensity = 1
	}
	return best, intensity, neg
}

func countHits(lower string, kws []string) int {
	n := 0
	for _, kw := range kws {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

func hasShouting(lower string) bool {
	return strings.Contains(lower, "?!")
}

func extractEntities(content string) map[string]string {
	out := map[string]string{}
	for typ, re := range entityPatterns {
		if m := re.FindString(content); m != "" {
			out[typ] = m
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func detectLanguage(lower string) string {
	best, bestHits := "en", 0
	for lang, words := range languageStopwords {
		hits := countHits(lower, words)
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}
	return best
}
