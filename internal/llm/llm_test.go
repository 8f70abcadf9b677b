package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"foodlog/internal/config"
	"foodlog/internal/promptcache"
)

// fakeCompleter counts calls and returns canned text
type fakeCompleter struct {
	mu     sync.Mutex
	calls  int
	text   string
	chunks []string
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, _ Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeCompleter) CompleteStream(_ context.Context, _ Request) (<-chan Chunk, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan Chunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- Chunk{Text: c}
	}
	close(out)
	return out, nil
}

func TestCachedCompleter_Complete(t *testing.T) {
	ctx := context.Background()
	inner := &fakeCompleter{text: "hello"}
	c := NewCachedCompleter(inner, promptcache.NewMemoryCache())

	req := Request{SystemPrompt: "sys", UserPrompt: "user", Model: "m", Temperature: 0}

	for i := 0; i < 3; i++ {
		got, err := c.Complete(ctx, req)
		if err != nil || got != "hello" {
			t.Fatalf("call %d: got %q err=%v", i, got, err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 model call, got %d", inner.calls)
	}

	req.Temperature = 0.1
	if _, err := c.Complete(ctx, req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("different temperature should miss the cache, calls=%d", inner.calls)
	}
}

func TestCachedCompleter_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &fakeCompleter{err: errors.New("boom")}
	cache := promptcache.NewMemoryCache()
	c := NewCachedCompleter(inner, cache)

	if _, err := c.Complete(ctx, Request{UserPrompt: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if cache.Len() != 0 {
		t.Error("failed completion should not be cached")
	}
}

func TestCachedCompleter_StreamStoresAndReplays(t *testing.T) {
	ctx := context.Background()
	inner := &fakeCompleter{chunks: []string{`[{"a":`, `1},`, `{"b":2}]`}}
	c := NewCachedCompleter(inner, promptcache.NewMemoryCache())
	req := Request{UserPrompt: "split", Model: "m"}

	stream, err := c.CompleteStream(ctx, req)
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	first, err := Collect(stream)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if first != `[{"a":1},{"b":2}]` {
		t.Fatalf("unexpected stream text %q", first)
	}

	replayed, err := c.CompleteStream(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	var chunks []string
	for chunk := range replayed {
		chunks = append(chunks, chunk.Text)
	}
	if inner.calls != 1 {
		t.Errorf("expected replay from cache, model calls=%d", inner.calls)
	}
	if strings.Join(chunks, "") != first {
		t.Errorf("replay mismatch: %q", strings.Join(chunks, ""))
	}
	for i, chunk := range chunks[:len(chunks)-1] {
		if len([]rune(chunk)) != replayChunkSize {
			t.Errorf("chunk %d has %d runes, want %d", i, len([]rune(chunk)), replayChunkSize)
		}
	}
}

func TestParseJSON(t *testing.T) {
	type servingOutput struct {
		Equation string  `json:"equation_grams" validate:"required"`
		Amount   float64 `json:"amount"`
	}

	tests := []struct {
		name    string
		input   string
		wantOK  bool
		wantEqn string
	}{
		{"plain", `{"equation_grams":"3*28.3495","amount":3}`, true, "3*28.3495"},
		{"fenced", "```json\n{\"equation_grams\":\"100\",\"amount\":1}\n```", true, "100"},
		{"last object wins", `{"equation_grams":"1"} then {"equation_grams":"2"}`, true, "2"},
		{"missing required", `{"amount":3}`, false, ""},
		{"no json", `I cannot help with that`, false, ""},
		{"wrong type", `{"equation_grams":3}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseJSON[servingOutput](tt.input)
			value, ok := result.Value()
			if ok != tt.wantOK {
				t.Fatalf("ok=%v want %v (malformed: %v)", ok, tt.wantOK, result.Malformed())
			}
			if ok && value.Equation != tt.wantEqn {
				t.Errorf("equation=%q want %q", value.Equation, tt.wantEqn)
			}
			if !ok && result.Malformed().Reason == "" {
				t.Error("malformed result should carry a reason")
			}
		})
	}
}

func TestScanObjects(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		want []string
	}{
		{"two objects", `{"a":1}{"b":2}`, []string{`{"a":1}`, `{"b":2}`}},
		{"array", `[{"a":1},{"b":{"c":2}}]`, []string{`{"a":1}`, `{"b":{"c":2}}`}},
		{"incomplete outer", `[{"a":1},{"b":{"c":2}`, []string{`{"a":1}`}},
		{"braces in strings", `{"s":"}{\"}"}`, []string{`{"s":"}{\"}"}`}},
		{"prose quotes", `Here's "the" list: {"a":1}`, []string{`{"a":1}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := ScanObjects(tt.buf, 0)
			if len(spans) != len(tt.want) {
				t.Fatalf("got %d spans want %d", len(spans), len(tt.want))
			}
			for i, span := range spans {
				if got := tt.buf[span.Start:span.End]; got != tt.want[i] {
					t.Errorf("span %d = %s want %s", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestOpenAICompatible_CompleteAndStream(t *testing.T) {
	var lastBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &lastBody)

		switch r.URL.Path {
		case "/chat/completions":
			if lastBody["stream"] == true {
				w.Header().Set("Content-Type", "text/event-stream")
				for _, part := range []string{"Hel", "lo"} {
					fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
				return
			}
			fmt.Fprint(w, `{"choices":[{"message":{"content":"Hello"}}]}`)
		case "/embeddings":
			fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewOpenAICompatible("test", "openai", server.URL, "test-key", "gpt-test", 0)
	ctx := context.Background()

	text, err := p.Complete(ctx, Request{UserPrompt: "hi", ResponseFormat: FormatJSONObject, MaxTokens: 10})
	if err != nil || text != "Hello" {
		t.Fatalf("Complete = %q, %v", text, err)
	}
	if lastBody["model"] != "gpt-test" {
		t.Errorf("expected default model, got %v", lastBody["model"])
	}
	if _, ok := lastBody["response_format"]; !ok {
		t.Error("expected response_format in request")
	}

	stream, err := p.CompleteStream(ctx, Request{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	streamed, err := Collect(stream)
	if err != nil || streamed != "Hello" {
		t.Fatalf("stream = %q, %v", streamed, err)
	}

	vec, err := p.Embed(ctx, "butter")
	if err != nil || len(vec) != 3 {
		t.Fatalf("Embed = %v, %v", vec, err)
	}
}

func TestOpenAICompatible_PerplexityOmitsJSONFormat(t *testing.T) {
	p := NewOpenAICompatible("pplx", "perplexity", "http://unused", "", "sonar", 0)
	body := p.buildBody(Request{UserPrompt: "x", ResponseFormat: FormatJSONObject}, false)
	if _, ok := body["response_format"]; ok {
		t.Error("perplexity requests must not carry json_object response_format")
	}
}

func TestGemini_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "g-key" {
			t.Errorf("missing api key")
		}
		var req geminiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SystemInstruction == nil || req.GenerationConfig.ResponseMimeType != "application/json" {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"ok\":"},{"text":"true}"}]}}]}`)
	}))
	defer server.Close()

	g := NewGemini("gemini", server.URL, "g-key", "gemini-test", 0)
	text, err := g.Complete(context.Background(), Request{
		SystemPrompt:   "sys",
		UserPrompt:     "hi",
		ResponseFormat: FormatJSONObject,
	})
	if err != nil || text != `{"ok":true}` {
		t.Fatalf("Complete = %q, %v", text, err)
	}
}

func TestRouter_RoutesByPurpose(t *testing.T) {
	var models []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		models = append(models, fmt.Sprint(body["model"]))
		mu.Unlock()
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	cfg := &config.ProvidersConfig{
		Providers: []config.ProviderConfig{{Name: "fw", Kind: "fireworks", BaseURL: server.URL}},
		Routes: map[string]config.RouteConfig{
			config.PurposeSplit: {Provider: "fw", Model: "llama-split"},
			DefaultRoute:        {Provider: "fw", Model: "llama-default"},
		},
	}
	router, err := NewRouter(cfg, promptcache.NewMemoryCache())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	ctx := context.Background()
	router.Complete(ctx, Request{Purpose: config.PurposeSplit, UserPrompt: "a"})
	router.Complete(ctx, Request{Purpose: config.PurposeServing, UserPrompt: "b"})
	// Identical request is served from the prompt cache
	router.Complete(ctx, Request{Purpose: config.PurposeSplit, UserPrompt: "a"})

	if len(models) != 2 || models[0] != "llama-split" || models[1] != "llama-default" {
		t.Errorf("unexpected models sent: %v", models)
	}

	if err := router.Reload(&config.ProvidersConfig{}); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := router.Complete(ctx, Request{Purpose: config.PurposeSplit}); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound after reload, got %v", err)
	}
}

func TestCachedCompleter_CancelledStreamNotCached(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"{\\\"a\\\":1}\"}}]}\n\n")
		w.(http.Flusher).Flush()
		// Hold the stream open until the client goes away
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewOpenAICompatible("test", "openai", server.URL, "", "gpt-test", 0)
	req := Request{UserPrompt: "2 eggs and toast"}

	// Cancellation races the producer's final send; repeat to cover both orders
	for i := 0; i < 20; i++ {
		cache := promptcache.NewMemoryCache()
		c := NewCachedCompleter(p, cache)

		ctx, cancel := context.WithCancel(context.Background())
		stream, err := c.CompleteStream(ctx, req)
		if err != nil {
			cancel()
			t.Fatalf("CompleteStream: %v", err)
		}
		first := <-stream
		if first.Err != nil || first.Text != `{"a":1}` {
			cancel()
			t.Fatalf("first chunk = %+v", first)
		}
		cancel()
		for range stream {
		}

		if cached, ok, _ := cache.Get(context.Background(), cacheKey(req)); ok {
			t.Fatalf("iteration %d: truncated completion cached: %q", i, cached)
		}
	}
}

func TestCachedCompleter_ErroredStreamNotCached(t *testing.T) {
	inner := &erroringStream{chunks: []string{`[{"a":1}`}, err: ErrStreamIncomplete}
	cache := promptcache.NewMemoryCache()
	c := NewCachedCompleter(inner, cache)
	req := Request{UserPrompt: "toast"}

	stream, err := c.CompleteStream(context.Background(), req)
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	if _, err := Collect(stream); !errors.Is(err, ErrStreamIncomplete) {
		t.Fatalf("Collect error = %v, want ErrStreamIncomplete", err)
	}
	if _, ok, _ := cache.Get(context.Background(), cacheKey(req)); ok {
		t.Error("errored stream was cached")
	}
}

// erroringStream sends chunks and then an error chunk
type erroringStream struct {
	chunks []string
	err    error
}

func (e *erroringStream) Complete(context.Context, Request) (string, error) {
	return "", e.err
}

func (e *erroringStream) CompleteStream(context.Context, Request) (<-chan Chunk, error) {
	out := make(chan Chunk, len(e.chunks)+1)
	for _, c := range e.chunks {
		out <- Chunk{Text: c}
	}
	out <- Chunk{Err: e.err}
	close(out)
	return out, nil
}

func TestOpenAICompatible_StreamEndMarker(t *testing.T) {
	tests := []struct {
		name    string
		events  []string
		want    string
		wantErr error
	}{
		{
			name:   "done marker",
			events: []string{`{"choices":[{"delta":{"content":"ok"}}]}`, `[DONE]`},
			want:   "ok",
		},
		{
			name:   "finish reason without done",
			events: []string{`{"choices":[{"delta":{"content":"ok"}}]}`, `{"choices":[{"delta":{},"finish_reason":"stop"}]}`},
			want:   "ok",
		},
		{
			name:    "body closed early",
			events:  []string{`{"choices":[{"delta":{"content":"[{\"a\":"}}]}`},
			wantErr: ErrStreamIncomplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				for _, event := range tt.events {
					fmt.Fprintf(w, "data: %s\n\n", event)
				}
			}))
			defer server.Close()

			p := NewOpenAICompatible("test", "openai", server.URL, "", "gpt-test", 0)
			stream, err := p.CompleteStream(context.Background(), Request{UserPrompt: "hi"})
			if err != nil {
				t.Fatalf("CompleteStream: %v", err)
			}
			text, err := Collect(stream)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || text != tt.want {
				t.Fatalf("stream = %q, %v", text, err)
			}
		})
	}
}

func TestGemini_StreamRequiresFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"[{\\\"a\\\":1}\"}]}}]}\n\n")
		// The "cut" model drops the connection before the final event
		if !strings.Contains(r.URL.Path, "/models/gemini-cut:") {
			fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"]\"}]},\"finishReason\":\"STOP\"}]}\n\n")
		}
	}))
	defer server.Close()

	g := NewGemini("gemini", server.URL, "g-key", "gemini-test", 0)

	stream, err := g.CompleteStream(context.Background(), Request{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	text, err := Collect(stream)
	if err != nil || text != `[{"a":1}]` {
		t.Fatalf("stream = %q, %v", text, err)
	}

	stream, err = g.CompleteStream(context.Background(), Request{UserPrompt: "hi", Model: "gemini-cut"})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	if _, err := Collect(stream); !errors.Is(err, ErrStreamIncomplete) {
		t.Fatalf("error = %v, want ErrStreamIncomplete", err)
	}
}
