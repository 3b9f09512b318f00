// Package context fits multi-turn, tool-augmented conversations into a
// model's context window.
//
// A Tool Block is an assistant message carrying tool calls together with the
// tool messages that immediately follow it and answer those calls. Blocks
// are atomic: they are kept whole or dropped whole, and a tool message is
// never emitted without the assistant message that requested it.
package context

import (
	"taskforge/internal/logging"
	"taskforge/internal/types"
)

// CostFunc prices a single message in tokens.
type CostFunc func(types.Message) int

type segmentKind int

const (
	segmentPlain     segmentKind = iota // user, system, tool-free assistant
	segmentToolBlock                    // assistant tool calls + answering tool messages
	segmentDangling                     // tool message with no requesting assistant
)

// segment is a contiguous run of messages [start, end).
type segment struct {
	kind       segmentKind
	start, end int
}

// segments partitions msgs into plain messages, Tool Blocks and dangling
// runs, in order. A dangling run is a tool result with no requesting
// assistant, or an assistant whose calls are not all answered together
// with the results that follow it.
func segments(msgs []types.Message) []segment {
	var out []segment
	for i := 0; i < len(msgs); {
		m := msgs[i]
		switch {
		case m.HasToolCalls():
			ids := make(map[string]bool, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				ids[c.ID] = true
			}
			answered := make(map[string]bool, len(ids))
			j := i + 1
			for j < len(msgs) && msgs[j].Role == types.RoleTool && ids[msgs[j].ToolCallID] {
				answered[msgs[j].ToolCallID] = true
				j++
			}
			kind := segmentToolBlock
			if len(answered) < len(ids) {
				// Some call has no result: the block is partial and never emitted.
				kind = segmentDangling
			}
			out = append(out, segment{kind: kind, start: i, end: j})
			i = j
		case m.Role == types.RoleTool:
			out = append(out, segment{kind: segmentDangling, start: i, end: i + 1})
			i++
		default:
			out = append(out, segment{kind: segmentPlain, start: i, end: i + 1})
			i++
		}
	}
	return out
}

// FitToBudget returns the largest acceptable suffix of conv within budget
// tokens.
//
// Pass 1 walks plain messages newest to oldest. If they do not all fit, the
// result is the plain messages newer than the first one that overflowed,
// with every Tool Block dropped. Pass 2 runs only when all plain messages
// fit: Tool Blocks are considered newest to oldest and each is kept whole
// if the remaining budget covers it. Dangling tool results and partially
// answered blocks are always removed. Original order is preserved.
func FitToBudget(conv types.Conversation, budget int, cost CostFunc) types.Conversation {
	msgs := conv.Messages()
	segs := segments(msgs)

	// Pass 1: plain messages only.
	used := 0
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		if s.kind != segmentPlain {
			continue
		}
		c := cost(msgs[s.start])
		if used+c > budget {
			logging.ContextDebug("budget %d exhausted by plain history at message %d; dropping tool blocks", budget, s.start)
			return collect(msgs, segs[i+1:], nil)
		}
		used += c
	}

	// Pass 2: everything plain fits; add whole Tool Blocks while room remains.
	remaining := budget - used
	keep := make(map[int]bool)
	for i := len(segs) - 1; i >= 0; i-- {
		s := segs[i]
		if s.kind != segmentToolBlock {
			continue
		}
		c := 0
		for j := s.start; j < s.end; j++ {
			c += cost(msgs[j])
		}
		if c <= remaining {
			keep[i] = true
			remaining -= c
		} else {
			logging.ContextDebug("excising tool block at message %d (cost %d, remaining %d)", s.start, c, remaining)
		}
	}
	return collect(msgs, segs, func(idx int) bool { return keep[idx] })
}

// collect emits the plain segments of segs plus any Tool Block for which
// keepBlock (indexed within segs) returns true.
func collect(msgs []types.Message, segs []segment, keepBlock func(int) bool) types.Conversation {
	var out []types.Message
	for i, s := range segs {
		switch s.kind {
		case segmentPlain:
			out = append(out, msgs[s.start])
		case segmentToolBlock:
			if keepBlock != nil && keepBlock(i) {
				out = append(out, msgs[s.start:s.end]...)
			}
		}
	}
	return types.NewConversation(out...)
}

// =============================================================================
// Budgeter
// =============================================================================

// Budgeter binds FitToBudget to per-model tokenizers.
type Budgeter struct {
	tokenizers *TokenizerCache
	reserve    int
}

// NewBudgeter creates a budgeter holding reserve tokens back for the response.
func NewBudgeter(tokenizers *TokenizerCache, reserve int) *Budgeter {
	return &Budgeter{tokenizers: tokenizers, reserve: reserve}
}

// Fit prunes conv to fit model's context limit, minus the reserve and the
// system prompt's own cost.
func (b *Budgeter) Fit(conv types.Conversation, model string, contextLimit int, systemPrompt string) types.Conversation {
	tok := b.tokenizers.Get(model)
	budget := contextLimit - b.reserve - tok.Count(systemPrompt)
	if budget < 0 {
		budget = 0
	}
	pruned := FitToBudget(conv, budget, func(m types.Message) int { return MessageCost(tok, m) })
	if pruned.Len() != conv.Len() {
		logging.ContextDebug("fit %d -> %d messages (budget=%d, model=%s)", conv.Len(), pruned.Len(), budget, model)
	}
	return pruned
}

// Cost returns the total cost of conv for model.
func (b *Budgeter) Cost(conv types.Conversation, model string) int {
	tok := b.tokenizers.Get(model)
	total := 0
	for _, m := range conv.Messages() {
		total += MessageCost(tok, m)
	}
	return total
}
