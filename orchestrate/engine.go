package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/logging"
)

// ManagerCaller performs one manager model call and returns its raw text.
// purpose is "route", "evaluate" or "synthesize" so the caller can attribute
// billing and events.
type ManagerCaller func(ctx context.Context, purpose, prompt string) (string, error)

// SpecialistRunner invokes one specialist agent with an optional tailored
// instruction and the outputs accumulated so far, returning its output text.
type SpecialistRunner func(ctx context.Context, round int, agent core.AgentDef, instruction string, prior []RoundOutput) (string, error)

// RoundOutput is one specialist invocation's outcome within a round.
// Err non-nil means the invocation failed; the round continued regardless.
type RoundOutput struct {
	Round       int
	Agent       core.AgentDef
	Instruction string
	Text        string
	Err         error
}

// Outcome is the terminal state of the consultation loop.
type Outcome struct {
	// Rounds holds each round's outputs in agent-selection order.
	Rounds [][]RoundOutput
	// Synthesis is the consolidated final answer, empty when synthesis was
	// skipped because every specialist invocation failed.
	Synthesis string
	// SynthesisErr records a failed synthesis call (outputs still stand).
	SynthesisErr error
	// Invocations is the total number of specialist calls issued.
	Invocations int
}

// Succeeded returns the non-error outputs across all rounds, in order.
func (o *Outcome) Succeeded() []RoundOutput {
	var out []RoundOutput
	for _, round := range o.Rounds {
		for _, ro := range round {
			if ro.Err == nil {
				out = append(out, ro)
			}
		}
	}
	return out
}

// Options tune the loop's hard caps.
type Options struct {
	// MaxDepth is the maximum number of consultation rounds.
	MaxDepth int
	// MaxInvocations caps total specialist calls across all rounds.
	MaxInvocations int
	Logger         logging.Logger
}

// Engine runs the manager-routed consultation loop.
type Engine struct {
	opts   Options
	logger logging.Logger
}

// New constructs an Engine. Defaults: depth 3, 12 invocations.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxDepth:       3,
		MaxInvocations: 12,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{opts: opts, logger: opts.Logger}
}

// Input carries the consultation subject.
type Input struct {
	Goal     string
	UserText string
	Roster   []core.AgentDef
}

// Run executes the loop to completion. Specialist failures are recorded per
// output and never abort the loop; the returned error covers only context
// cancellation. Events for round boundaries and manager decisions are pushed
// through emit; agent-level events are the SpecialistRunner's concern.
func (e *Engine) Run(
	ctx context.Context,
	in Input,
	callManager ManagerCaller,
	runSpecialist SpecialistRunner,
	emit func(core.TurnEvent),
) (*Outcome, error) {
	if len(in.Roster) == 0 {
		return nil, fmt.Errorf("orchestrate: empty roster")
	}

	outcome := &Outcome{}
	var allOutputs []RoundOutput

	for round := 1; round <= e.opts.MaxDepth; round++ {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		default:
		}

		// ROUTE
		decision := e.route(ctx, in, round, allOutputs, callManager)
		remaining := e.opts.MaxInvocations - outcome.Invocations
		targets := decision.Agents
		if !decision.Everyone && len(targets) > maxAgentsPerRound {
			targets = targets[:maxAgentsPerRound]
		}
		if len(targets) > remaining {
			targets = targets[:remaining]
		}
		if len(targets) == 0 {
			break
		}
		emit(core.NewManagerThinkEvent(round, routeSummary(decision, targets)))
		emit(core.NewRoundStartEvent(round))

		// RUN_ROUND: invocations inside a round are independent, so they may
		// run concurrently; persisted ordering stays selection order.
		results := e.runRound(ctx, round, targets, in.Roster, allOutputs, runSpecialist)
		outcome.Invocations += len(results)
		outcome.Rounds = append(outcome.Rounds, results)
		allOutputs = append(allOutputs, results...)
		emit(core.NewRoundEndEvent(round))

		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}

		// EVALUATE: skipped when a hard cap already ends the loop.
		if round == e.opts.MaxDepth || outcome.Invocations >= e.opts.MaxInvocations {
			break
		}
		eval := e.evaluate(ctx, in, allOutputs, callManager)
		emit(core.NewManagerThinkEvent(round, fmt.Sprintf("continue=%t", eval.Continue)))
		if !eval.Continue {
			break
		}
	}

	// SYNTHESIZE: one consolidated answer over all non-error outputs; skipped
	// when every specialist invocation failed.
	succeeded := outcome.Succeeded()
	if len(succeeded) > 0 {
		text, err := callManager(ctx, "synthesize", synthesisPrompt(in, succeeded))
		if err != nil {
			outcome.SynthesisErr = err
			e.logger.Warn("orchestrate synthesis failed: %v", err)
		} else {
			outcome.Synthesis = strings.TrimSpace(text)
		}
	}

	return outcome, ctx.Err()
}

func (e *Engine) route(
	ctx context.Context,
	in Input,
	round int,
	prior []RoundOutput,
	callManager ManagerCaller,
) RouteDecision {
	raw, err := callManager(ctx, "route", routePrompt(in, round, prior))
	if err != nil {
		e.logger.Warn("orchestrate route call failed, using fallback: %v", err)
		return RouteDecision{Agents: []RouteTarget{{Key: in.Roster[0].Key}}, Fallback: true}
	}
	return ParseRouteDecision(raw, in.Roster)
}

func (e *Engine) evaluate(
	ctx context.Context,
	in Input,
	outputs []RoundOutput,
	callManager ManagerCaller,
) EvalDecision {
	raw, err := callManager(ctx, "evaluate", evalPrompt(in, outputs))
	if err != nil {
		e.logger.Warn("orchestrate evaluate call failed, stopping: %v", err)
		return EvalDecision{Continue: false}
	}
	return ParseEvalDecision(raw)
}

// runRound invokes the selected specialists concurrently and returns their
// results in selection order, not completion order.
func (e *Engine) runRound(
	ctx context.Context,
	round int,
	targets []RouteTarget,
	roster []core.AgentDef,
	prior []RoundOutput,
	runSpecialist SpecialistRunner,
) []RoundOutput {
	byKey := make(map[string]core.AgentDef, len(roster))
	for _, a := range roster {
		byKey[strings.ToLower(a.Key)] = a
	}

	results := make([]RoundOutput, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		agent, ok := byKey[strings.ToLower(target.Key)]
		if !ok {
			results[i] = RoundOutput{
				Round: round,
				Agent: core.AgentDef{Key: target.Key},
				Err:   fmt.Errorf("agent %q not in roster", target.Key),
			}
			continue
		}
		i, target, agent := i, target, agent
		g.Go(func() error {
			text, err := runSpecialist(gctx, round, agent, target.Instruction, prior)
			results[i] = RoundOutput{
				Round:       round,
				Agent:       agent,
				Instruction: target.Instruction,
				Text:        text,
				Err:         err,
			}
			// Failures are recorded in place; never abort the round.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func routeSummary(decision RouteDecision, targets []RouteTarget) string {
	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = t.Key
	}
	switch {
	case decision.Fallback:
		return fmt.Sprintf("routing fallback: %s", strings.Join(keys, ", "))
	case decision.Everyone:
		return fmt.Sprintf("routing to everyone: %s", strings.Join(keys, ", "))
	default:
		return fmt.Sprintf("routing to: %s", strings.Join(keys, ", "))
	}
}
