package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatible talks to any /chat/completions API: OpenAI, Fireworks,
// Perplexity and self-hosted gateways share the same request shape.
type OpenAICompatible struct {
	name         string
	kind         string
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

// NewOpenAICompatible creates a provider. kind is one of openai, fireworks, perplexity.
func NewOpenAICompatible(name, kind, baseURL, apiKey, defaultModel string, timeout time.Duration) *OpenAICompatible {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenAICompatible{
		name:         name,
		kind:         kind,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
	}
}

// Name returns the configured provider name
func (p *OpenAICompatible) Name() string {
	return p.name
}

func (p *OpenAICompatible) buildBody(req Request, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []map[string]interface{}{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]interface{}{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]interface{}{"role": "user", "content": req.UserPrompt})

	body := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
		"stream":      stream,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}
	// Perplexity rejects json_object; it only accepts a full json_schema
	if req.ResponseFormat == FormatJSONObject && p.kind != "perplexity" {
		body["response_format"] = map[string]interface{}{"type": "json_object"}
	}
	return body
}

func (p *OpenAICompatible) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+path, bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s API error (status %d): %s", p.name, resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// Complete performs a non-streaming completion
func (p *OpenAICompatible) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := p.post(ctx, "/chat/completions", p.buildBody(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return result.Choices[0].Message.Content, nil
}

// CompleteStream performs a streaming completion over server-sent events
func (p *OpenAICompatible) CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := p.post(ctx, "/chat/completions", p.buildBody(req, true))
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		// Either [DONE] or a finish_reason marks a complete answer
		finished := false
		err := readSSE(resp.Body, func(data string) (bool, error) {
			if data == "[DONE]" {
				finished = true
				return true, nil
			}
			var event struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return false, fmt.Errorf("invalid stream event: %w", err)
			}
			if len(event.Choices) == 0 {
				return false, nil
			}
			choice := event.Choices[0]
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finished = true
			}
			if choice.Delta.Content == "" {
				return false, nil
			}
			select {
			case out <- Chunk{Text: choice.Delta.Content}:
				return false, nil
			case <-ctx.Done():
				return true, ctx.Err()
			}
		})
		if err == nil && !finished {
			err = ErrStreamIncomplete
		}
		if err != nil {
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

// Embed returns the embedding for text using the /embeddings endpoint
func (p *OpenAICompatible) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.EmbedWithModel(ctx, p.defaultModel, text)
}

// EmbedWithModel embeds text with an explicit model
func (p *OpenAICompatible) EmbedWithModel(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := p.post(ctx, "/embeddings", map[string]interface{}{
		"model": model,
		"input": text,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return result.Data[0].Embedding, nil
}

// readSSE calls handle with the payload of every "data: " line until handle
// reports done, the body ends, or an error occurs.
func readSSE(body io.Reader, handle func(data string) (done bool, err error)) error {
	scanner := bufio.NewScanner(body)

	// Large JSON events would otherwise fail with "token too long"
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		done, err := handle(data)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}
