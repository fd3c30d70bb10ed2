package nlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPasswordResetIntent(t *testing.T) {
	e := NewExtractor(0.15)

	ex := e.Extract("I forgot my password and I'm locked out of my account")

	require.NotEmpty(t, ex.Intents)
	assert.Equal(t, "password_reset", ex.Intents[0].Name)
	assert.False(t, ex.ChitChat)
}

func TestExtractAmbiguousIntentsKeepsRunnerUp(t *testing.T) {
	e := NewExtractor(0.5)

	// One keyword hit each for billing and order_status.
	ex := e.Extract("I was charged but my order never shipped")

	assert.True(t, ex.Ambiguous)
	require.Len(t, ex.Intents, 2, "close scores report the top two intents")
}

func TestExtractUnambiguousKeepsSingleIntent(t *testing.T) {
	e := NewExtractor(0.05)

	ex := e.Extract("please reset my password, I forgot it and can't log in")

	require.NotEmpty(t, ex.Intents)
	assert.Len(t, ex.Intents, 1)
	assert.Equal(t, "password_reset", ex.Intents[0].Name)
	assert.False(t, ex.Ambiguous)
}

func TestExtractNegativeEmotionIntensity(t *testing.T) {
	e := NewExtractor(0.15)

	ex := e.Extract("This is absolutely unacceptable!! Still broken!!")

	assert.True(t, ex.Negative)
	assert.Equal(t, "anger", ex.Emotion)
	assert.GreaterOrEqual(t, ex.Intensity, 0.8)
}

func TestExtractNeutralEmotion(t *testing.T) {
	e := NewExtractor(0.15)

	ex := e.Extract("What is the shipping time to Berlin?")

	assert.False(t, ex.Negative)
	assert.Equal(t, "neutral", ex.Emotion)
	assert.Less(t, ex.Intensity, 0.5)
}

func TestExtractEntities(t *testing.T) {
	e := NewExtractor(0.15)

	ex := e.Extract("My order #48213 hasn't arrived, contact me at jane.doe@example.com")

	require.NotNil(t, ex.Entities)
	assert.Equal(t, "#48213", ex.Entities["order_id"])
	assert.Equal(t, "jane.doe@example.com", ex.Entities["email"])
}

func TestExtractLanguageGuess(t *testing.T) {
	e := NewExtractor(0.15)

	assert.Equal(t, "en", e.Extract("the delivery is late and you still have my money").Language)
	assert.Equal(t, "de", e.Extract("ich kann mein Konto nicht finden und die Rechnung fehlt").Language)
}

func TestExtractGreetingIsChitChat(t *testing.T) {
	e := NewExtractor(0.15)

	ex := e.Extract("hello there, thanks for yesterday!")

	assert.True(t, ex.ChitChat)
	require.NotEmpty(t, ex.Intents)
	assert.Equal(t, "greeting", ex.Intents[0].Name)
}

func TestExtractNoSignalsIsChitChat(t *testing.T) {
	e := NewExtractor(0.15)

	ex := e.Extract("hmm okay then")

	assert.True(t, ex.ChitChat)
	assert.Empty(t, ex.Intents)
}
