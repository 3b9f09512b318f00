package training

import (
	"context"
	"errors"

	"taskforge/internal/llm"
	"taskforge/internal/prompt"
	"taskforge/internal/sandbox"
	"taskforge/internal/types"
)

// LLMGenerator generates candidates through a tool-augmented session.
// functionsText describes the project functions for the system prompt.
func LLMGenerator(session llm.Session, functionsText string) GenerateFunc {
	withTools := session.Tools != nil
	return func(ctx context.Context, req GenerateRequest) (Draft, error) {
		bestCode := ""
		if req.Best != nil {
			bestCode = req.Best.Code
		}
		system := prompt.GenerationSystemPrompt(functionsText, req.Examples, withTools)
		user := prompt.ImproveUserPrompt(req.Question, req.Instructions, bestCode, req.Feedback)

		reply, err := session.Converse(ctx, system, types.NewConversation(types.UserMessage(user)))
		if err != nil {
			return Draft{}, err
		}
		code, plan, err := prompt.ExtractCode(reply.Completion.Content)
		if err != nil {
			return Draft{}, err
		}
		return Draft{Code: code, Plan: plan}, nil
	}
}

// LLMJudge grades candidates with a single completion per candidate.
func LLMJudge(client types.LLMClient) JudgeFunc {
	return func(ctx context.Context, req JudgeRequest) (JudgeEvaluation, error) {
		raw, err := types.CompleteText(ctx, client, prompt.JudgeSystemPrompt, prompt.JudgeUserPrompt(prompt.JudgeInput{
			Question:       req.Question,
			ExpectedAnswer: req.ExpectedAnswer,
			Instructions:   req.Instructions,
			Code:           req.Code,
			ToolOutput:     req.ToolOutput,
		}))
		if err != nil {
			return nil, err
		}
		return ParseJudgeEvaluation(raw)
	}
}

// SandboxExecute runs candidates in exec alongside the support sources.
func SandboxExecute(exec sandbox.Executor, support []string) ExecuteFunc {
	return func(ctx context.Context, code string) (ExecutionResult, error) {
		res, err := exec.Execute(ctx, sandbox.Program{Support: support, Code: code})
		if err != nil {
			var execErr *types.ExecutionError
			if errors.As(err, &execErr) {
				return ExecutionResult{Stderr: execErr.Stderr}, err
			}
			return ExecutionResult{}, err
		}
		return ExecutionResult{Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}
}
