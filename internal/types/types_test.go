package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactNewerThan(t *testing.T) {
	now := time.Now()
	older := Artifact{Name: "a", LastModified: now.Add(-time.Minute)}
	newer := Artifact{Name: "b", LastModified: now}

	assert.True(t, newer.NewerThan(older))
	assert.False(t, older.NewerThan(newer))
	assert.False(t, newer.NewerThan(newer), "equal timestamps are not newer")
}

func TestConversationAppendDoesNotMutate(t *testing.T) {
	base := NewConversation(UserMessage("hi"))
	next := base.Append(AssistantMessage("hello"))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, next.Len())

	last, ok := next.Last()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, last.Role)
}

func TestConversationIsolatedFromCallerSlices(t *testing.T) {
	call := ToolCall{ID: "1", Name: "run_code"}
	msgs := []Message{AssistantMessage("", call)}
	conv := NewConversation(msgs...)

	msgs[0].Content = "changed"
	msgs[0].ToolCalls[0].Name = "changed"

	got := conv.At(0)
	assert.Empty(t, got.Content)
	assert.Equal(t, "run_code", got.ToolCalls[0].Name)

	out := conv.Messages()
	out[0].ToolCalls[0].Name = "also changed"
	assert.Equal(t, "run_code", conv.At(0).ToolCalls[0].Name)
}

func TestConversationToolDetection(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "list_functions"}
	plain := NewConversation(UserMessage("q"), AssistantMessage("a"))
	withTools := plain.Append(AssistantMessage("", call), ToolMessage(call, "[]"))

	assert.False(t, plain.HasToolMessages())
	assert.True(t, withTools.HasToolMessages())
	assert.Equal(t, "c1", withTools.At(3).ToolCallID)
	assert.Equal(t, "list_functions", withTools.At(3).Name)
}

func TestEmptyConversation(t *testing.T) {
	var conv Conversation
	_, ok := conv.Last()
	assert.False(t, ok)
	assert.Nil(t, conv.Messages())
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	root := errors.New("boom")
	tests := []struct {
		name string
		err  error
	}{
		{"stale", &StaleInputError{Task: "sum", Path: "tasks/sum.md", Err: root}},
		{"generation", &GenerationError{Attempts: 3, Err: root}},
		{"execution", &ExecutionError{Err: root}},
		{"judge", &JudgeParseError{Raw: "??", Err: root}},
		{"retrieval", &RetrievalUnavailableError{Err: root}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, root)
			assert.Contains(t, tt.err.Error(), "boom")
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(&StaleInputError{Task: "x"}))
	assert.True(t, IsTerminal(fmt.Errorf("wrap: %w", &GenerationError{Attempts: 1, Err: errors.New("x")})))
	assert.False(t, IsTerminal(&ExecutionError{Stderr: "panic"}))
	assert.False(t, IsTerminal(&JudgeParseError{Err: errors.New("x")}))
	assert.False(t, IsTerminal(&RetrievalUnavailableError{Err: errors.New("x")}))
}

func TestExecutionErrorMessage(t *testing.T) {
	err := &ExecutionError{Stderr: "panic: index out of range\ngoroutine 1"}
	assert.Equal(t, "execution failed: panic: index out of range", err.Error())

	timeout := &ExecutionError{TimedOut: true, Err: context.DeadlineExceeded}
	assert.Contains(t, timeout.Error(), "timed out")
}

func TestRetrySucceedsAfterRetryable(t *testing.T) {
	var seen [][]error
	v, err := Retry(context.Background(), 3, func(_ context.Context, attempt int, prior []error) Outcome[string] {
		seen = append(seen, prior)
		if attempt < 3 {
			return Retryable[string](fmt.Errorf("attempt %d", attempt))
		}
		return Success("ok")
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	require.Len(t, seen, 3)
	assert.Len(t, seen[2], 2, "third attempt sees both earlier errors")
}

func TestRetryStopsOnFatal(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	_, err := Retry(context.Background(), 5, func(context.Context, int, []error) Outcome[int] {
		calls++
		return Fatal[int](fatal)
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	last := errors.New("still broken")
	_, err := Retry(context.Background(), 2, func(context.Context, int, []error) Outcome[int] {
		return Retryable[int](last)
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, last)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, 3, func(context.Context, int, []error) Outcome[int] {
		t.Fatal("attempt must not run")
		return Success(1)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcomeKindString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "retryable", OutcomeRetryable.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
}
