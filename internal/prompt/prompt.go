// Package prompt assembles the system and user prompts for code generation
// and judging, and extracts code and verdicts from model replies.
package prompt

import (
	"fmt"
	"strings"

	"taskforge/internal/types"
)

// Section is one titled block of a prompt.
type Section struct {
	Title string
	Body  string
}

// Assemble joins non-empty sections in order, each under a markdown header.
func Assemble(sections ...Section) string {
	var parts []string
	for _, s := range sections {
		body := strings.TrimSpace(s.Body)
		if body == "" {
			continue
		}
		if s.Title == "" {
			parts = append(parts, body)
			continue
		}
		parts = append(parts, "## "+s.Title+"\n\n"+body)
	}
	return strings.Join(parts, "\n\n")
}

const generatorIdentity = `You write Go programs that accomplish a task using the project's functions.
Reply with a short plan followed by exactly one fenced go code block.
The code must be a complete package main file defining:

    func Run() (string, error)

Run returns the task's answer. Call project functions directly; they are compiled
into the same package. Import only the Go standard library.`

const toolGuidance = `You may call list_functions and read_function to inspect the project, and
run_code to try a program before answering.`

// GenerationSystemPrompt builds the system prompt shared by compilation and
// improvement.
func GenerationSystemPrompt(functionsText string, examples []types.Example, withTools bool) string {
	sections := []Section{
		{Body: generatorIdentity},
	}
	if withTools {
		sections = append(sections, Section{Title: "Tools", Body: toolGuidance})
	}
	sections = append(sections,
		Section{Title: "Project functions", Body: functionsText},
		Section{Title: "Examples", Body: FormatExamples(examples)},
	)
	return Assemble(sections...)
}

// FormatExamples renders examples as task/code pairs, most relevant first.
func FormatExamples(examples []types.Example) string {
	var b strings.Builder
	for i, ex := range examples {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### Example %d\n\nTask: %s\n\n```go\n%s\n```", i+1, strings.TrimSpace(ex.TaskText), strings.TrimSpace(ex.Code))
	}
	return b.String()
}

// FormatFeedback renders accumulated failures from earlier attempts.
func FormatFeedback(feedback []string) string {
	if len(feedback) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Earlier attempts failed. Fix these problems:\n")
	for _, f := range feedback {
		b.WriteString("- " + strings.TrimSpace(f) + "\n")
	}
	return b.String()
}

// CompileUserPrompt asks for code implementing a task file.
func CompileUserPrompt(taskText string, feedback []string) string {
	return Assemble(
		Section{Title: "Task", Body: taskText},
		Section{Title: "Feedback", Body: FormatFeedback(feedback)},
	)
}

// ImproveUserPrompt asks for a candidate answering question, seeded with the
// best candidate found so far.
func ImproveUserPrompt(question, instructions, bestCode string, feedback []string) string {
	seed := ""
	if strings.TrimSpace(bestCode) != "" {
		seed = "Improve on this program, which is the best so far:\n\n```go\n" + strings.TrimSpace(bestCode) + "\n```"
	}
	return Assemble(
		Section{Title: "Question", Body: question},
		Section{Title: "Instructions", Body: instructions},
		Section{Title: "Best so far", Body: seed},
		Section{Title: "Feedback", Body: FormatFeedback(feedback)},
	)
}

// JudgeSystemPrompt instructs the judge to grade per dimension.
const JudgeSystemPrompt = `You grade a program's answer to a question.
Return one JSON object mapping each dimension to a verdict:

{"correctness": {"pass": true|false|null, "positive": ["..."], "negative": ["..."]},
 "instruction_compliance": {"pass": true|false|null, "positive": [], "negative": []}}

Use null for pass when a dimension cannot be decided. Add other dimensions if useful.
List every problem you find under negative. Reply with the JSON object only.`

// JudgeInput is what the judge sees for one candidate.
type JudgeInput struct {
	Question       string
	ExpectedAnswer string
	Instructions   string
	Code           string
	ToolOutput     string
}

// JudgeUserPrompt renders in for the judge.
func JudgeUserPrompt(in JudgeInput) string {
	return Assemble(
		Section{Title: "Question", Body: in.Question},
		Section{Title: "Expected answer", Body: in.ExpectedAnswer},
		Section{Title: "Instructions", Body: in.Instructions},
		Section{Title: "Program", Body: "```go\n" + strings.TrimSpace(in.Code) + "\n```"},
		Section{Title: "Program output", Body: in.ToolOutput},
	)
}
