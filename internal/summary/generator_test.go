package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/llm"
)

const validAnalysisJSON = `{
	"overall_sentiment": "positive",
	"confidence": 88,
	"key_emotions": ["relieved", "friendly"],
	"concerns": ["billing question"],
	"satisfaction": "satisfied",
	"summary": "Caller asked about an invoice and paid it over the phone."
}`

type mockLLMClient struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
	failures int
	lastReq  llm.Request
}

func (m *mockLLMClient) Complete(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastReq = req
	if m.err != nil && m.calls <= m.failures {
		return "", m.err
	}
	return m.response, nil
}

func newTestGenerator(client llm.Client, t *testing.T) *Generator {
	t.Helper()

	g := NewGenerator("openai/gpt-4o-mini", 4, func(provider, model string) (llm.Client, error) {
		if provider != "openai" {
			t.Fatalf("expected provider openai, got %q", provider)
		}
		if model != "gpt-4o-mini" {
			t.Fatalf("expected model gpt-4o-mini, got %q", model)
		}
		return client, nil
	})
	g.sleep = func(time.Duration) {}
	return g
}

func TestGenerateParsesAnalysis(t *testing.T) {
	client := &mockLLMClient{response: validAnalysisJSON}
	g := newTestGenerator(client, t)

	got, err := g.Generate(context.Background(), "call_1", "CALLER: hello\nRECEPTIONIST: hi", "receptionist")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.OverallSentiment != "positive" {
		t.Fatalf("expected positive sentiment, got %q", got.OverallSentiment)
	}
	if got.Confidence != 88 {
		t.Fatalf("expected confidence 88, got %d", got.Confidence)
	}
	if len(got.KeyEmotions) != 2 || got.KeyEmotions[0] != "relieved" {
		t.Fatalf("unexpected emotions: %#v", got.KeyEmotions)
	}
	if got.Satisfaction != "satisfied" {
		t.Fatalf("expected satisfied, got %q", got.Satisfaction)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 llm call, got %d", client.calls)
	}
	if !client.lastReq.JSONOutput {
		t.Fatal("expected JSON output mode")
	}
	if client.lastReq.Temperature != 0.3 {
		t.Fatalf("expected temperature 0.3, got %v", client.lastReq.Temperature)
	}
	if len(client.lastReq.Messages) != 2 || client.lastReq.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %#v", client.lastReq.Messages)
	}
	if !strings.Contains(client.lastReq.Messages[1].Content, "RECEPTIONIST: hi") {
		t.Fatalf("expected transcript in user message, got %q", client.lastReq.Messages[1].Content)
	}
}

func TestGenerateEmptyTranscript(t *testing.T) {
	client := &mockLLMClient{response: validAnalysisJSON}
	g := newTestGenerator(client, t)

	_, err := g.Generate(context.Background(), "call_1", "   ", "receptionist")
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected zero llm calls, got %d", client.calls)
	}
}

func TestGenerateRetriesTransportErrors(t *testing.T) {
	client := &mockLLMClient{
		response: validAnalysisJSON,
		err:      errors.New("connection reset"),
		failures: 2,
	}
	g := newTestGenerator(client, t)

	got, err := g.Generate(context.Background(), "call_1", "CALLER: hi", "receptionist")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.OverallSentiment != "positive" {
		t.Fatalf("unexpected analysis: %+v", got)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 llm calls, got %d", client.calls)
	}
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	client := &mockLLMClient{
		response: validAnalysisJSON,
		err:      errors.New("connection reset"),
		failures: 10,
	}
	g := newTestGenerator(client, t)

	_, err := g.Generate(context.Background(), "call_1", "CALLER: hi", "receptionist")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "after retries") {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 llm calls, got %d", client.calls)
	}
}

func TestGenerateMalformedResponseDoesNotRetry(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "The call went well overall."},
		{"bad sentiment", `{"overall_sentiment":"great","confidence":50,"satisfaction":"neutral","summary":"x"}`},
		{"confidence out of range", `{"overall_sentiment":"neutral","confidence":150,"satisfaction":"neutral","summary":"x"}`},
		{"bad satisfaction", `{"overall_sentiment":"neutral","confidence":50,"satisfaction":"thrilled","summary":"x"}`},
		{"empty summary", `{"overall_sentiment":"neutral","confidence":50,"satisfaction":"neutral","summary":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLLMClient{response: tt.response}
			g := newTestGenerator(client, t)

			_, err := g.Generate(context.Background(), "call_1", "CALLER: hi", "receptionist")
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
			if client.calls != 1 {
				t.Fatalf("expected 1 llm call, got %d", client.calls)
			}
		})
	}
}

func TestGenerateStripsCodeFence(t *testing.T) {
	client := &mockLLMClient{response: "```json\n" + validAnalysisJSON + "\n```"}
	g := newTestGenerator(client, t)

	got, err := g.Generate(context.Background(), "call_1", "CALLER: hi", "receptionist")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.OverallSentiment != "positive" {
		t.Fatalf("unexpected analysis: %+v", got)
	}
}

type blockingLLMClient struct {
	enter    chan struct{}
	release  chan struct{}
	response string
}

func (c *blockingLLMClient) Complete(_ context.Context, _ llm.Request) (string, error) {
	c.enter <- struct{}{}
	<-c.release
	return c.response, nil
}

func TestGenerateBoundsConcurrency(t *testing.T) {
	client := &blockingLLMClient{
		enter:    make(chan struct{}, 2),
		release:  make(chan struct{}),
		response: validAnalysisJSON,
	}

	g := NewGenerator("openai/gpt-4o-mini", 1, func(_, _ string) (llm.Client, error) {
		return client, nil
	})
	g.sleep = func(time.Duration) {}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := g.Generate(context.Background(), fmt.Sprintf("call_%d", n), "CALLER: hi", "receptionist")
			if err != nil {
				t.Errorf("Generate failed: %v", err)
			}
		}(i)
	}

	select {
	case <-client.enter:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first call")
	}

	select {
	case <-client.enter:
		t.Fatal("second call entered while gate was held")
	case <-time.After(100 * time.Millisecond):
	}

	close(client.release)
	wg.Wait()
}

func TestGenerateGateRespectsContext(t *testing.T) {
	client := &mockLLMClient{response: validAnalysisJSON}
	g := newTestGenerator(client, t)

	if err := g.gate.Acquire(context.Background(), 4); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer g.gate.Release(4)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Generate(ctx, "call_1", "CALLER: hi", "receptionist")
	if err == nil {
		t.Fatal("expected error when gate is saturated")
	}
	if !strings.Contains(err.Error(), "acquire summary slot") {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected zero llm calls, got %d", client.calls)
	}
}

func TestSampleTranscriptShortPassthrough(t *testing.T) {
	text := "CALLER: hello there"
	if got := SampleTranscript(text, 300, 200, 200); got != text {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestSampleTranscriptTruncatesLong(t *testing.T) {
	words := make([]string, 1000)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	text := strings.Join(words, " ")

	got := SampleTranscript(text, 100, 50, 50)
	if !strings.Contains(got, "[...]") {
		t.Fatal("expected elision markers")
	}
	if !strings.HasPrefix(got, "w0 ") {
		t.Fatalf("expected start preserved, got %q", got[:20])
	}
	if !strings.HasSuffix(got, "w999") {
		t.Fatal("expected end preserved")
	}
}
