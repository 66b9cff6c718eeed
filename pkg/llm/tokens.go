package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token usage of text
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a cl100k_base counter. When the encoding cannot be
// loaded it estimates four characters per token.
func NewTokenCounter() TokenCounter {
	return &tiktokenCounter{}
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens is the length based fallback estimate
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		return 1
	}
	return n
}

// CharCounter always uses the length estimate
type CharCounter struct{}

func (CharCounter) Count(text string) int { return EstimateTokens(text) }
