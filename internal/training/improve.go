// Package training searches for a correct program by repeated rounds of
// concurrent generation, execution, judging and scoring, and feeds winners
// back into the example corpus.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskforge/internal/config"
	"taskforge/internal/logging"
	"taskforge/internal/metrics"
	"taskforge/internal/types"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// STATES
// =============================================================================

// State is a step of an improvement round.
type State int

const (
	StateIdle State = iota
	StateGenerating
	StateExecuting
	StateJudging
	StateScoring
	StateAccepted
	StateImproved
	StateNoImprovement
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateExecuting:
		return "executing"
	case StateJudging:
		return "judging"
	case StateScoring:
		return "scoring"
	case StateAccepted:
		return "accepted"
	case StateImproved:
		return "improved"
	case StateNoImprovement:
		return "no_improvement"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// Defaults for the search.
const (
	DefaultBatchSize        = 4
	DefaultMaxAttempts      = 5
	DefaultMaxNoImprovement = 2
	defaultMaxFeedback      = 12
)

// Options bound the search.
type Options struct {
	BatchSize        int
	MaxAttempts      int // rounds
	MaxNoImprovement int
	Weights          Weights
	// PersistWithoutMatch persists the best candidate when nothing was
	// accepted, if it scored above zero and explicitly passed correctness.
	PersistWithoutMatch bool
	MaxFeedback         int
}

// DefaultOptions returns the standard search bounds.
func DefaultOptions() Options {
	return Options{
		BatchSize:           DefaultBatchSize,
		MaxAttempts:         DefaultMaxAttempts,
		MaxNoImprovement:    DefaultMaxNoImprovement,
		Weights:             DefaultWeights(),
		PersistWithoutMatch: true,
		MaxFeedback:         defaultMaxFeedback,
	}
}

// OptionsFromConfig maps the training config section onto Options.
func OptionsFromConfig(cfg config.TrainingConfig) Options {
	opts := DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MaxNoImprovement > 0 {
		opts.MaxNoImprovement = cfg.MaxNoImprovement
	}
	if len(cfg.DimensionWeights) > 0 {
		opts.Weights.ByDimension = cfg.DimensionWeights
	}
	if cfg.DefaultWeight > 0 {
		opts.Weights.Default = cfg.DefaultWeight
	}
	opts.PersistWithoutMatch = cfg.PersistWithoutMatch
	return opts
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.MaxNoImprovement <= 0 {
		o.MaxNoImprovement = def.MaxNoImprovement
	}
	if o.Weights.ByDimension == nil && o.Weights.Default == 0 {
		o.Weights = def.Weights
	}
	if o.MaxFeedback <= 0 {
		o.MaxFeedback = def.MaxFeedback
	}
	return o
}

// =============================================================================
// IMPROVER
// =============================================================================

// ErrMissingCollaborator is returned when Generate, Execute or Judge is nil.
var ErrMissingCollaborator = errors.New("improver requires generate, execute and judge functions")

// Improver runs the generate-execute-judge search.
type Improver struct {
	Options   Options
	Generate  GenerateFunc
	Execute   ExecuteFunc
	Judge     JudgeFunc
	Examples  ExampleFunc // optional
	Persister Persister   // optional
	Metrics   *metrics.Metrics
	// OnTransition observes every state change.
	OnTransition func(round int, state State)
}

// Request is one question to answer.
type Request struct {
	Question       string
	ExpectedAnswer string // empty when unknown
	Instructions   string
}

// Result is the outcome of Improve.
type Result struct {
	Best       *Candidate
	Accepted   bool
	Persisted  bool
	Rounds     int
	Candidates int
	// Reason explains why nothing was persisted.
	Reason string
}

// Improve searches for the best candidate answering req. The returned
// error is non-nil only for cancellation, persistence failures, or when no
// round ever produced a candidate (a *types.GenerationError).
func (im *Improver) Improve(ctx context.Context, req Request) (*Result, error) {
	if im.Generate == nil || im.Execute == nil || im.Judge == nil {
		return nil, ErrMissingCollaborator
	}
	timer := logging.StartTimer(logging.CategoryTraining, "Improve")
	defer timer.Stop()

	opts := im.Options.normalized()
	var examples []types.Example
	if im.Examples != nil {
		examples = im.Examples(ctx, req.Question)
	}
	logging.Training("improve: batch=%d max_attempts=%d examples=%d expected=%v",
		opts.BatchSize, opts.MaxAttempts, len(examples), req.ExpectedAnswer != "")

	res := &Result{}
	var (
		streak    int
		feedback  []string
		genErrs   []error
		generated int
	)
	im.transition(0, StateIdle)

	for res.Rounds < opts.MaxAttempts && streak < opts.MaxNoImprovement {
		res.Rounds++
		round := res.Rounds
		start := time.Now()

		out := im.runRound(ctx, opts, req, round, res.Best, examples, feedback)
		cands := out.Value.candidates
		res.Candidates += len(cands)

		switch out.Kind {
		case types.OutcomeFatal:
			return res, out.Err
		case types.OutcomeSuccess:
			res.Best = out.Value.winner
			res.Accepted = true
			im.transition(round, StateAccepted)
			im.Metrics.ObserveRound(metrics.OutcomeAccepted, time.Since(start))
			logging.Training("round %d: accepted candidate %d (score %.2f)", round, res.Best.Index, res.Best.Score)
			if err := im.persist(ctx, req.Question, res.Best); err != nil {
				return res, err
			}
			res.Persisted = im.Persister != nil
			return res, nil
		}

		for _, c := range cands {
			if c.Err == nil || c.Code != "" {
				generated++
			}
		}
		if out.Err != nil {
			genErrs = append(genErrs, out.Err)
		}

		if winner := out.Value.winner; winner != nil && (res.Best == nil || winner.Score > res.Best.Score) {
			res.Best = winner
			streak = 0
			im.transition(round, StateImproved)
			im.Metrics.ObserveRound(metrics.OutcomeImproved, time.Since(start))
			logging.Training("round %d: improved to %.2f (candidate %d)", round, winner.Score, winner.Index)
		} else {
			streak++
			im.transition(round, StateNoImprovement)
			im.Metrics.ObserveRound(metrics.OutcomeNoImprovement, time.Since(start))
			logging.Training("round %d: no improvement (streak %d)", round, streak)
		}

		feedback = appendFeedback(feedback, roundFeedback(cands, res.Best), opts.MaxFeedback)
	}

	if generated == 0 && len(genErrs) > 0 {
		return res, &types.GenerationError{Attempts: res.Rounds, Err: errors.Join(genErrs...)}
	}

	switch {
	case res.Best == nil:
		res.Reason = "no candidate could be evaluated"
	case !opts.PersistWithoutMatch:
		res.Reason = "no candidate matched and fallback persistence is disabled"
	case res.Best.Score <= 0:
		res.Reason = fmt.Sprintf("best score %.2f is not positive", res.Best.Score)
	case !res.Best.Evaluation.Passed(DimensionCorrectness):
		res.Reason = "best candidate did not pass correctness"
	default:
		if err := im.persist(ctx, req.Question, res.Best); err != nil {
			return res, err
		}
		res.Persisted = im.Persister != nil
	}
	if res.Reason != "" {
		logging.Training("improve finished without persisting: %s", res.Reason)
	}
	return res, nil
}

type roundResult struct {
	candidates []*Candidate
	winner     *Candidate
}

// runRound executes one round. Success carries an accepted candidate;
// Retryable carries the round's best (possibly nil) and, when nothing was
// generated, the generation errors; Fatal means the context ended.
func (im *Improver) runRound(ctx context.Context, opts Options, req Request, round int, best *Candidate, examples []types.Example, feedback []string) types.Outcome[roundResult] {
	im.transition(round, StateGenerating)
	cands := im.generateAll(ctx, opts, req, round, best, examples, feedback)
	if err := ctx.Err(); err != nil {
		return fatalRound(cands, err)
	}

	im.transition(round, StateExecuting)
	im.executeAll(ctx, opts, cands)
	if err := ctx.Err(); err != nil {
		return fatalRound(cands, err)
	}

	im.transition(round, StateJudging)
	im.judgeAll(ctx, opts, req, cands)
	if err := ctx.Err(); err != nil {
		return fatalRound(cands, err)
	}

	im.transition(round, StateScoring)
	var winner, accepted *Candidate
	var genErrs []error
	for _, c := range cands {
		if !c.Comparable() {
			var genErr *types.GenerationError
			if errors.As(c.Err, &genErr) {
				genErrs = append(genErrs, genErr.Err)
			}
			continue
		}
		c.Score = opts.Weights.Score(c.Evaluation)
		logging.TrainingDebug("round %d candidate %d scored %.2f", round, c.Index, c.Score)
		if winner == nil || c.Score > winner.Score {
			winner = c
		}
		if req.ExpectedAnswer != "" && !c.Evaluation.HasNegatives() && (accepted == nil || c.Score > accepted.Score) {
			accepted = c
		}
	}

	value := roundResult{candidates: cands, winner: winner}
	if accepted != nil {
		value.winner = accepted
		return types.Success(value)
	}
	out := types.Outcome[roundResult]{Kind: types.OutcomeRetryable, Value: value}
	if len(genErrs) == len(cands) && len(genErrs) > 0 {
		out.Err = errors.Join(genErrs...)
	}
	return out
}

func fatalRound(cands []*Candidate, err error) types.Outcome[roundResult] {
	out := types.Fatal[roundResult](err)
	out.Value = roundResult{candidates: cands}
	return out
}

func (im *Improver) generateAll(ctx context.Context, opts Options, req Request, round int, best *Candidate, examples []types.Example, feedback []string) []*Candidate {
	cands := make([]*Candidate, opts.BatchSize)
	var g errgroup.Group
	for i := range cands {
		cands[i] = &Candidate{Round: round, Index: i}
		c := cands[i]
		g.Go(func() error {
			draft, err := im.Generate(ctx, GenerateRequest{
				Question:       req.Question,
				ExpectedAnswer: req.ExpectedAnswer,
				Instructions:   req.Instructions,
				Best:           best,
				Examples:       examples,
				Feedback:       feedback,
				Round:          round,
				Index:          c.Index,
			})
			if err == nil && draft.Code == "" {
				err = errors.New("generator returned no code")
			}
			if err != nil {
				c.Err = &types.GenerationError{Attempts: 1, Err: err}
				im.Metrics.GenerationFailed()
				logging.TrainingDebug("round %d candidate %d generation failed: %v", round, c.Index, err)
				return nil
			}
			c.Code, c.Plan = draft.Code, draft.Plan
			im.Metrics.CandidateGenerated()
			return nil
		})
	}
	_ = g.Wait()
	return cands
}

func (im *Improver) executeAll(ctx context.Context, opts Options, cands []*Candidate) {
	var g errgroup.Group
	g.SetLimit(opts.BatchSize)
	for _, c := range cands {
		if c.Err != nil {
			continue
		}
		g.Go(func() error {
			res, err := im.Execute(ctx, c.Code)
			c.Execution = res
			im.Metrics.CandidateExecuted()
			if err != nil {
				var execErr *types.ExecutionError
				if !errors.As(err, &execErr) {
					execErr = &types.ExecutionError{Stderr: res.Stderr, Err: err}
				}
				c.Err = execErr
				im.Metrics.ExecutionFailed()
				logging.TrainingDebug("candidate %d execution failed: %v", c.Index, execErr)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (im *Improver) judgeAll(ctx context.Context, opts Options, req Request, cands []*Candidate) {
	var g errgroup.Group
	g.SetLimit(opts.BatchSize)
	for _, c := range cands {
		if c.Err != nil {
			continue
		}
		g.Go(func() error {
			eval, err := im.Judge(ctx, JudgeRequest{
				Question:       req.Question,
				ExpectedAnswer: req.ExpectedAnswer,
				Instructions:   req.Instructions,
				Code:           c.Code,
				ToolOutput:     c.Execution.Output(),
			})
			if err == nil && len(eval) == 0 {
				err = &types.JudgeParseError{Err: errNoDimensions}
			}
			if err != nil {
				c.Err = err
				var parseErr *types.JudgeParseError
				if errors.As(err, &parseErr) {
					im.Metrics.JudgeParseFailed()
				}
				logging.TrainingDebug("candidate %d discarded by judge: %v", c.Index, err)
				return nil
			}
			c.Evaluation = eval
			im.Metrics.CandidateJudged()
			return nil
		})
	}
	_ = g.Wait()
}

func (im *Improver) persist(ctx context.Context, question string, c *Candidate) error {
	if im.Persister == nil {
		return nil
	}
	if err := im.Persister.Persist(ctx, question, c); err != nil {
		return fmt.Errorf("persist example: %w", err)
	}
	im.Metrics.ExamplePersisted("improve")
	logging.Training("persisted candidate from round %d (score %.2f)", c.Round, c.Score)
	return nil
}

func (im *Improver) transition(round int, s State) {
	if im.OnTransition != nil {
		im.OnTransition(round, s)
	}
}

// roundFeedback collects failures of the round plus the best candidate's
// negative findings.
func roundFeedback(cands []*Candidate, best *Candidate) []string {
	var out []string
	for _, c := range cands {
		if c.Err != nil {
			out = append(out, fmt.Sprintf("round %d candidate %d: %v", c.Round, c.Index, c.Err))
		}
	}
	if best != nil {
		out = append(out, best.Evaluation.Negatives()...)
	}
	return out
}

// appendFeedback keeps the newest max entries without duplicates.
func appendFeedback(acc, add []string, max int) []string {
	seen := make(map[string]bool, len(acc))
	for _, f := range acc {
		seen[f] = true
	}
	for _, f := range add {
		if !seen[f] {
			seen[f] = true
			acc = append(acc, f)
		}
	}
	if len(acc) > max {
		acc = append([]string(nil), acc[len(acc)-max:]...)
	}
	return acc
}
