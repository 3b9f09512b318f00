package context

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"taskforge/internal/logging"
	"taskforge/internal/types"
)

// =============================================================================
// Token Counting
// =============================================================================

// Tokenizer estimates the token cost of text for one model family.
type Tokenizer interface {
	Count(s string) int
	Name() string
}

// HeuristicTokenizer estimates tokens from rune count.
type HeuristicTokenizer struct {
	name          string
	charsPerToken float64
}

// NewHeuristicTokenizer creates a tokenizer assuming charsPerToken runes per token.
func NewHeuristicTokenizer(name string, charsPerToken float64) *HeuristicTokenizer {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &HeuristicTokenizer{name: name, charsPerToken: charsPerToken}
}

// Count estimates tokens in a string, rounding up so non-empty text costs at least one.
func (t *HeuristicTokenizer) Count(s string) int {
	if s == "" {
		return 0
	}
	runes := float64(utf8.RuneCountInString(s))
	n := int(runes / t.charsPerToken)
	if float64(n)*t.charsPerToken < runes {
		n++
	}
	return n
}

func (t *HeuristicTokenizer) Name() string { return t.name }

// calibrations maps model name prefixes to runes per token.
var calibrations = []struct {
	prefix        string
	charsPerToken float64
}{
	{"gemini", 4.0},
	{"gemma", 4.0},
	{"claude", 3.5},
	{"gpt", 4.0},
}

// TokenizerFor builds the tokenizer for model.
func TokenizerFor(model string) Tokenizer {
	lower := strings.ToLower(model)
	for _, c := range calibrations {
		if strings.HasPrefix(lower, c.prefix) {
			return NewHeuristicTokenizer(model, c.charsPerToken)
		}
	}
	return NewHeuristicTokenizer(model, 4.0)
}

// messageOverhead is the fixed per-message cost of role and framing.
const messageOverhead = 4

// MessageCost is the token cost of m under tok, tool call arguments included.
func MessageCost(tok Tokenizer, m types.Message) int {
	cost := messageOverhead + tok.Count(m.Content) + tok.Count(m.Name)
	for _, call := range m.ToolCalls {
		cost += tok.Count(call.Name) + tok.Count(call.ID)
		if len(call.Input) > 0 {
			args, err := json.Marshal(call.Input)
			if err == nil {
				cost += tok.Count(string(args))
			} else {
				cost += tok.Count(fmt.Sprint(call.Input))
			}
		}
	}
	return cost
}

// =============================================================================
// Tokenizer Cache
// =============================================================================

// TokenizerFactory builds a tokenizer for a model name.
type TokenizerFactory func(model string) Tokenizer

type cachedTokenizer struct {
	tok  Tokenizer
	uses int
}

// TokenizerCache keeps one tokenizer per model and rebuilds an instance
// after it has been handed out recycleAfter times. All access is serialized.
type TokenizerCache struct {
	mu           sync.Mutex
	cache        *lru.Cache[string, *cachedTokenizer]
	factory      TokenizerFactory
	recycleAfter int
	builds       int
}

// NewTokenizerCache creates a cache of up to size models. recycleAfter <= 0
// disables recycling. A nil factory selects TokenizerFor.
func NewTokenizerCache(size, recycleAfter int, factory TokenizerFactory) (*TokenizerCache, error) {
	if size <= 0 {
		size = 8
	}
	if factory == nil {
		factory = TokenizerFor
	}
	c, err := lru.New[string, *cachedTokenizer](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer cache: %w", err)
	}
	return &TokenizerCache{cache: c, factory: factory, recycleAfter: recycleAfter}, nil
}

// Get returns the tokenizer for model.
func (c *TokenizerCache) Get(model string) Tokenizer {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(model)
	if ok && c.recycleAfter > 0 && entry.uses >= c.recycleAfter {
		logging.ContextDebug("recycling tokenizer for %s after %d uses", model, entry.uses)
		ok = false
	}
	if !ok {
		entry = &cachedTokenizer{tok: c.factory(model)}
		c.builds++
		c.cache.Add(model, entry)
	}
	entry.uses++
	return entry.tok
}

// Builds returns how many tokenizer instances have been constructed.
func (c *TokenizerCache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
