// Package analyzer is the classification capability: it derives tone and
// sentiment labels for a review. The provider call can fail or be
// unconfigured; callers always get a usable result because every failure
// path collapses into the deterministic rating fallback.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"review-analytics/pkg/circuit"
	"review-analytics/pkg/logging"
)

// Result carries normalized labels. Values are always members of the fixed
// vocabularies below.
type Result struct {
	Tone      string `json:"tone"`
	Sentiment string `json:"sentiment"`
	// Fallback marks results derived from the rating heuristic rather than
	// the provider.
	Fallback bool `json:"-"`
}

var validTones = map[string]bool{
	"positive": true,
	"negative": true,
	"neutral":  true,
	"mixed":    true,
}

var validSentiments = map[string]bool{
	"happy":        true,
	"sad":          true,
	"angry":        true,
	"satisfied":    true,
	"disappointed": true,
	"excited":      true,
	"frustrated":   true,
	"pleased":      true,
	"neutral":      true,
}

// sentimentKeywords is scan order for the freeform fallback parse; first hit
// wins.
var sentimentKeywords = []string{
	"happy", "sad", "angry", "satisfied", "disappointed",
	"excited", "frustrated", "pleased",
}

var jsonObjectRe = regexp.MustCompile(`\{[^}]+\}`)

// Config tunes the provider call.
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// chatCompleter is the slice of the OpenAI client the analyzer needs;
// narrowed for tests.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer classifies review text via one chat completion per call. A
// circuit breaker guards the provider: after repeated failures calls skip it
// entirely and serve the fallback, so a dead provider doesn't tax every job
// with a timeout wait.
type Analyzer struct {
	client      chatCompleter
	model       string
	temperature float64
	maxTokens   int
	breaker     *circuit.Breaker
	log         *logging.Logger
}

// New builds an analyzer. An empty API key is a valid configuration: every
// Classify call then uses the rating fallback.
func New(cfg Config, log *logging.Logger) *Analyzer {
	a := &Analyzer{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         log.Component("analyzer"),
	}
	if a.model == "" {
		a.model = openai.GPT4oMini
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a.breaker = circuit.New(circuit.Config{
		Name:              "openai",
		OperationTimeout:  timeout,
		OpenFor:           time.Minute,
		MaxConsecFailures: 5,
	}, log)
	if cfg.APIKey != "" {
		a.client = openai.NewClient(cfg.APIKey)
	} else {
		log.Warn("no OpenAI API key configured; classification will use rating fallback")
	}
	return a
}

// Classify returns tone/sentiment for a review. It never returns an error:
// transport failures, malformed responses and missing credentials all
// resolve to Fallback(stars).
func (a *Analyzer) Classify(ctx context.Context, text string, stars int) Result {
	if a.client == nil {
		return Fallback(stars)
	}

	var result Result
	err := a.breaker.Do(ctx, func(ctx context.Context) error {
		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: buildPrompt(text, stars)},
			},
			Temperature: float32(a.temperature),
			MaxTokens:   a.maxTokens,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			result = Fallback(stars)
			return nil
		}
		result = parseResponse(resp.Choices[0].Message.Content, stars)
		return nil
	}, nil)
	if err != nil {
		a.log.Warn("classification call failed, using fallback", "stars", stars, logging.Err(err))
		return Fallback(stars)
	}
	return result
}

const systemPrompt = `You are a product review analyst. Always respond with a single JSON object and nothing else.`

func buildPrompt(text string, stars int) string {
	return fmt.Sprintf(`Analyze the tone and sentiment of this product review: %q with %d stars out of 10.

Respond ONLY in this exact JSON format (no markdown, no extra text):
{"tone": "positive/negative/neutral/mixed", "sentiment": "happy/sad/angry/satisfied/disappointed/excited/frustrated/pleased/neutral"}

Consider both the text content and the star rating.`, text, stars)
}

// parseResponse extracts labels from the provider output: structured JSON
// first, then a keyword scan of the raw text, then the rating fallback.
func parseResponse(content string, stars int) Result {
	if m := jsonObjectRe.FindString(content); m != "" {
		var parsed struct {
			Tone      string `json:"tone"`
			Sentiment string `json:"sentiment"`
		}
		if err := json.Unmarshal([]byte(m), &parsed); err == nil {
			return Result{
				Tone:      normalizeTone(parsed.Tone),
				Sentiment: normalizeSentiment(parsed.Sentiment),
			}
		}
	}

	if r, ok := scanKeywords(content); ok {
		return r
	}

	return Fallback(stars)
}

// scanKeywords inspects freeform text for known tone and sentiment words.
func scanKeywords(content string) (Result, bool) {
	lower := strings.ToLower(content)

	tone := ""
	for _, t := range []string{"positive", "negative", "mixed"} {
		if strings.Contains(lower, t) {
			tone = t
			break
		}
	}
	sentiment := ""
	for _, s := range sentimentKeywords {
		if strings.Contains(lower, s) {
			sentiment = s
			break
		}
	}

	if tone == "" && sentiment == "" {
		return Result{}, false
	}
	if tone == "" {
		tone = "neutral"
	}
	if sentiment == "" {
		sentiment = "neutral"
	}
	return Result{Tone: tone, Sentiment: sentiment}, true
}

func normalizeTone(tone string) string {
	normalized := strings.ToLower(strings.TrimSpace(tone))
	if validTones[normalized] {
		return normalized
	}
	return "neutral"
}

func normalizeSentiment(sentiment string) string {
	normalized := strings.ToLower(strings.TrimSpace(sentiment))
	if validSentiments[normalized] {
		return normalized
	}
	return "neutral"
}

// Fallback derives labels from the star rating alone. Deterministic; used
// whenever the provider is unavailable or unparseable.
func Fallback(stars int) Result {
	switch {
	case stars >= 8:
		return Result{Tone: "positive", Sentiment: "satisfied", Fallback: true}
	case stars >= 6:
		return Result{Tone: "neutral", Sentiment: "pleased", Fallback: true}
	case stars >= 4:
		return Result{Tone: "neutral", Sentiment: "neutral", Fallback: true}
	default:
		return Result{Tone: "negative", Sentiment: "disappointed", Fallback: true}
	}
}
