package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/halcyonmedical/voxmachina/internal/llm"
)

var (
	ErrEmptyTranscript   = errors.New("empty transcript")
	ErrMalformedResponse = errors.New("malformed summary response")
)

// Analysis is the structured result of the post-call summary request.
type Analysis struct {
	OverallSentiment string   `json:"overall_sentiment"`
	Confidence       int      `json:"confidence"`
	KeyEmotions      []string `json:"key_emotions"`
	Concerns         []string `json:"concerns"`
	Satisfaction     string   `json:"satisfaction"`
	Summary          string   `json:"summary"`
}

var (
	validSentiments    = map[string]bool{"positive": true, "neutral": true, "negative": true, "urgent": true}
	validSatisfactions = map[string]bool{"satisfied": true, "neutral": true, "dissatisfied": true}
)

func (a Analysis) validate() error {
	if !validSentiments[a.OverallSentiment] {
		return fmt.Errorf("unexpected overall_sentiment %q", a.OverallSentiment)
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range", a.Confidence)
	}
	if !validSatisfactions[a.Satisfaction] {
		return fmt.Errorf("unexpected satisfaction %q", a.Satisfaction)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return errors.New("empty summary text")
	}
	return nil
}

type ClientFactory func(provider, model string) (llm.Client, error)

type Generator struct {
	model   string
	factory ClientFactory
	gate    *semaphore.Weighted
	sleep   func(time.Duration)
}

func NewGenerator(model string, maxConcurrent int64, factory ClientFactory) *Generator {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Generator{
		model:   model,
		factory: factory,
		gate:    semaphore.NewWeighted(maxConcurrent),
		sleep:   time.Sleep,
	}
}

const systemPrompt = `You are an assistant for a medical practice reviewing phone calls. Analyze the call transcript and respond with a single JSON object containing exactly these keys:
- "overall_sentiment": one of "positive", "neutral", "negative", "urgent"
- "confidence": integer from 0 to 100
- "key_emotions": array of emotion words detected in the caller
- "concerns": array of concerns the caller raised
- "satisfaction": one of "satisfied", "neutral", "dissatisfied"
- "summary": a concise summary under 200 words covering the reason for calling, the outcome, and any follow-up needed

Respond with the JSON object only.`

// Generate issues one structured-output completion for the call and parses
// the result. Transport failures are retried with backoff; a response that
// does not parse is returned as ErrMalformedResponse without retrying.
func (g *Generator) Generate(ctx context.Context, callID, transcript, agentName string) (Analysis, error) {
	if strings.TrimSpace(transcript) == "" {
		return Analysis{}, ErrEmptyTranscript
	}

	if err := g.gate.Acquire(ctx, 1); err != nil {
		return Analysis{}, fmt.Errorf("acquire summary slot for call %s: %w", callID, err)
	}
	defer g.gate.Release(1)

	provider, model, err := llm.ParseModel(g.model)
	if err != nil {
		return Analysis{}, err
	}
	client, err := g.factory(provider, model)
	if err != nil {
		return Analysis{}, fmt.Errorf("create llm client: %w", err)
	}

	userContent := fmt.Sprintf("Agent on the call: %s\n\nTranscript:\n%s",
		agentName, SampleTranscript(transcript, 3000, 1500, 1500))

	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.3,
		MaxTokens:   500,
		JSONOutput:  true,
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := client.Complete(ctx, req)
		if err == nil {
			return parseAnalysis(result)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			g.sleep(backoff[attempt])
		}
	}
	return Analysis{}, fmt.Errorf("summary request for call %s failed after retries: %w", callID, lastErr)
}

// SampleTranscript keeps the beginning, middle, and end of overlong
// transcripts so the prompt stays within model context limits.
func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

func parseAnalysis(raw string) (Analysis, error) {
	cleaned := stripCodeFence(raw)

	var a Analysis
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := a.validate(); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return a, nil
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
