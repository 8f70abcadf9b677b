package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Gemini talks to the Gemini generateContent API (Vertex "vertex" kind)
type Gemini struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	client       *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64  `json:"temperature"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

// NewGemini creates a Gemini provider
func NewGemini(name, baseURL, apiKey, defaultModel string, timeout time.Duration) *Gemini {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Gemini{
		name:         name,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
	}
}

// Name returns the configured provider name
func (g *Gemini) Name() string {
	return g.name
}

func (g *Gemini) buildRequest(req Request) geminiRequest {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.ResponseFormat == FormatJSONObject {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}
	return body
}

func (g *Gemini) endpoint(model, method string, query url.Values) string {
	if model == "" {
		model = g.defaultModel
	}
	query.Set("key", g.apiKey)
	return fmt.Sprintf("%s/models/%s:%s?%s", g.baseURL, url.PathEscape(model), method, query.Encode())
}

func (g *Gemini) post(ctx context.Context, endpoint string, body interface{}) (*http.Response, error) {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s API error (status %d): %s", g.name, resp.StatusCode, string(respBody))
	}
	return resp, nil
}

func candidateText(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// Complete performs a non-streaming generateContent call
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := g.post(ctx, g.endpoint(req.Model, "generateContent", url.Values{}), g.buildRequest(req))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	return candidateText(result), nil
}

// CompleteStream uses streamGenerateContent with server-sent events
func (g *Gemini) CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	query := url.Values{}
	query.Set("alt", "sse")
	resp, err := g.post(ctx, g.endpoint(req.Model, "streamGenerateContent", query), g.buildRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		// The last event of a complete answer carries a finishReason
		finished := false
		err := readSSE(resp.Body, func(data string) (bool, error) {
			var event geminiResponse
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return false, fmt.Errorf("invalid stream event: %w", err)
			}
			if len(event.Candidates) > 0 && event.Candidates[0].FinishReason != "" {
				finished = true
			}
			text := candidateText(event)
			if text == "" {
				return false, nil
			}
			select {
			case out <- Chunk{Text: text}:
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

// Embed calls embedContent with the default model
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.EmbedWithModel(ctx, g.defaultModel, text)
}

// EmbedWithModel calls embedContent with an explicit model
func (g *Gemini) EmbedWithModel(ctx context.Context, model, text string) ([]float32, error) {
	body := map[string]interface{}{
		"content": geminiContent{Parts: []geminiPart{{Text: text}}},
	}
	resp, err := g.post(ctx, g.endpoint(model, "embedContent", url.Values{}), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	return result.Embedding.Values, nil
}
