// Package promptcache stores model completions keyed by the exact prompt and
// sampling parameters so identical calls are only paid for once.
package promptcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// TTL is how long a cached completion lives. There is no manual invalidation.
const TTL = 30 * 24 * time.Hour

// Key identifies a completion request
type Key struct {
	SystemPrompt   string
	UserPrompt     string
	Model          string
	Temperature    float64
	MaxTokens      int
	ResponseFormat string
	Stop           []string
}

// String returns the storage key:
// prompt:<sha256(system+user)>:<model>:<temperature>:<maxTokens>:<format>[:<stop>]
func (k Key) String() string {
	sum := sha256.Sum256([]byte(k.SystemPrompt + k.UserPrompt))

	var b strings.Builder
	b.WriteString("prompt:")
	b.WriteString(hex.EncodeToString(sum[:]))
	b.WriteByte(':')
	b.WriteString(k.Model)
	b.WriteByte(':')
	b.WriteString(strconv.FormatFloat(k.Temperature, 'f', -1, 64))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(k.MaxTokens))
	b.WriteByte(':')
	b.WriteString(k.ResponseFormat)
	if len(k.Stop) > 0 {
		b.WriteByte(':')
		b.WriteString(strings.Join(k.Stop, ","))
	}
	return b.String()
}

// Cache is a completion cache. Get reports ok=false on a miss.
// Concurrent identical misses both go to the model; there is no stampede lock.
type Cache interface {
	Get(ctx context.Context, key Key) (string, bool, error)
	Put(ctx context.Context, key Key, value string) error
}
