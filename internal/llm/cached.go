package llm

import (
	"context"
	"log"
	"strings"

	"foodlog/internal/promptcache"
)

// replayChunkSize is the rune length of chunks replayed from a cached stream
const replayChunkSize = 4

// CachedCompleter puts a prompt cache in front of another Completer
type CachedCompleter struct {
	inner Completer
	cache promptcache.Cache
}

// NewCachedCompleter wraps inner with cache
func NewCachedCompleter(inner Completer, cache promptcache.Cache) *CachedCompleter {
	return &CachedCompleter{inner: inner, cache: cache}
}

func cacheKey(req Request) promptcache.Key {
	return promptcache.Key{
		SystemPrompt:   req.SystemPrompt,
		UserPrompt:     req.UserPrompt,
		Model:          req.Model,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
		Stop:           req.Stop,
	}
}

func (c *CachedCompleter) lookup(ctx context.Context, key promptcache.Key) (string, bool) {
	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		// A broken cache must not block the model call
		log.Printf("⚠️ [PROMPT-CACHE] Lookup failed, calling model: %v", err)
		return "", false
	}
	return cached, ok
}

func (c *CachedCompleter) store(ctx context.Context, key promptcache.Key, value string) {
	if err := c.cache.Put(context.WithoutCancel(ctx), key, value); err != nil {
		log.Printf("⚠️ [PROMPT-CACHE] Failed to store completion: %v", err)
	}
}

// Complete returns a cached completion or calls the model and caches the result
func (c *CachedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	key := cacheKey(req)
	if cached, ok := c.lookup(ctx, key); ok {
		return cached, nil
	}

	text, err := c.inner.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, text)
	return text, nil
}

// CompleteStream replays a cached completion in small chunks, or streams from
// the model and caches the full text once the stream ends cleanly. Streams
// that end in an error or after ctx is cancelled are never cached.
func (c *CachedCompleter) CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	key := cacheKey(req)
	if cached, ok := c.lookup(ctx, key); ok {
		return replay(ctx, cached), nil
	}

	stream, err := c.inner.CompleteStream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		var full strings.Builder
		for chunk := range stream {
			if chunk.Err == nil {
				full.WriteString(chunk.Text)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// Drain so the producer can exit
				for range stream {
				}
				return
			}
			if chunk.Err != nil {
				return
			}
		}
		// A producer may close without an error chunk once ctx is done
		if ctx.Err() != nil {
			return
		}
		c.store(ctx, key, full.String())
	}()

	return out, nil
}

func replay(ctx context.Context, text string) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		runes := []rune(text)
		for start := 0; start < len(runes); start += replayChunkSize {
			end := min(start+replayChunkSize, len(runes))
			select {
			case out <- Chunk{Text: string(runes[start:end])}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
