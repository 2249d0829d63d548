package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/budget"
	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/dispatch"
	"github.com/parleyhq/parley/ledger"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/orchestrate"
	"github.com/parleyhq/parley/tool"
)

// managerAgentKey attributes manager model calls (routing, evaluation,
// synthesis) in usage events and messages.
const managerAgentKey = "manager"

// staging accumulates the turn's side effects in memory until the single
// commit. Methods are safe for concurrent use: orchestrator rounds invoke
// specialists in parallel.
type staging struct {
	mu     sync.Mutex
	turn   core.Turn
	userID string
	policy ledger.PolicySnapshot

	digest   string
	audit    core.BudgetAudit
	output   string
	partial  bool
	messages []core.Message
	usage    []core.UsageEvent
	debits   []core.WalletDebit
}

func newStaging(turn core.Turn, bounded *budget.Bounded, policy ledger.PolicySnapshot) *staging {
	return &staging{
		turn:   turn,
		policy: policy,
		digest: bounded.Digest,
		audit:  bounded.Audit,
	}
}

// bill stages one model call's usage event and wallet debit.
func (st *staging) bill(agentKey, modelAlias string, usage model.Usage) {
	price, err := st.policy.Catalog.Lookup(modelAlias)
	if err != nil {
		// Unpriced aliases bill at parity rather than going uncounted.
		price = ledger.Price{Multiplier: 1.0, Version: "unpriced"}
	}
	event, debit := ledger.Stage(st.turn.ID, st.userID, agentKey, modelAlias, usage, price)
	st.mu.Lock()
	st.usage = append(st.usage, event)
	st.debits = append(st.debits, debit)
	st.mu.Unlock()
}

func (st *staging) addMessage(m core.Message) {
	st.mu.Lock()
	st.messages = append(st.messages, m)
	st.mu.Unlock()
}

func (st *staging) markPartial() {
	st.mu.Lock()
	st.partial = true
	st.mu.Unlock()
}

// finish assembles the atomic commit unit: the user message first, then the
// digest (when summarization fired this turn), then the agent record.
func (st *staging) finish() *core.StagedTurn {
	st.mu.Lock()
	defer st.mu.Unlock()

	turn := st.turn
	turn.Status = core.TurnCompleted
	if st.partial {
		turn.Status = core.TurnPartial
	}
	turn.OutputText = st.output

	msgs := make([]core.Message, 0, len(st.messages)+2)
	msgs = append(msgs, core.NewUserMessage(turn.ID, turn.UserText))
	if st.digest != "" {
		msgs = append(msgs, core.Message{
			ID:         core.NewID(),
			TurnID:     turn.ID,
			Role:       core.RoleSystem,
			Text:       st.digest,
			Visibility: core.VisibilityShared,
			Created:    time.Now().UTC(),
		})
	}
	msgs = append(msgs, st.messages...)

	return &core.StagedTurn{
		Turn:     turn,
		Messages: msgs,
		Usage:    st.usage,
		Debits:   st.debits,
		Audit:    st.audit,
	}
}

// invocationResult carries one agent invocation's artifacts back to the
// caller so message staging can happen in plan order regardless of the
// completion order of concurrent invocations.
type invocationResult struct {
	AgentKey string
	Round    int
	Text     string
	// Scratchpad holds private tool trace messages, already turn-stamped.
	Scratchpad []core.Message
	Err        error
}

// executePlan runs the resolved plan and fills the staging record. The
// returned error is a cancellation; agent failures degrade the turn to
// partial instead of aborting it.
func (e *Executor) executePlan(
	ctx context.Context,
	req Request,
	env *environment,
	plan *dispatch.Plan,
	bounded *budget.Bounded,
	st *staging,
	emit func(core.TurnEvent),
) error {
	st.userID = env.session.UserID
	if plan.Orchestrated {
		return e.runOrchestrated(ctx, req, env, bounded, st, emit)
	}
	return e.runDirect(ctx, req, plan, bounded, st, emit)
}

// runDirect executes manual and roundtable plans: the full step list as one
// round, each agent seeing the outputs produced earlier in the same turn.
func (e *Executor) runDirect(
	ctx context.Context,
	req Request,
	plan *dispatch.Plan,
	bounded *budget.Bounded,
	st *staging,
	emit func(core.TurnEvent),
) error {
	emit(core.NewRoundStartEvent(1))

	carry := bounded.Messages
	var results []invocationResult
	for _, step := range plan.Steps {
		if ctx.Err() != nil {
			st.markPartial()
			return ctx.Err()
		}

		emit(core.NewAgentStartEvent(1, step.Agent.Key))
		res := e.invokeAgent(ctx, invocation{
			Agent:        step.Agent,
			Round:        1,
			Instruction:  step.Instruction,
			Messages:     carry,
			OutputBudget: bounded.OutputBudget,
			Stream:       req.Stream,
		}, st, emit)
		emit(core.NewAgentEndEvent(1, step.Agent.Key, res.Text, res.Err))

		if res.Err != nil {
			st.markPartial()
			st.addMessage(core.NewErrorMessage(st.turn.ID, step.Agent.Key, 0, res.Err))
		} else {
			st.addMessage(core.NewAgentMessage(st.turn.ID, step.Agent.Key, 0, res.Text))
			// Same-turn carry-forward: later agents see this output.
			carry = append(carry, model.ChatMessage{
				Role: "assistant",
				Name: step.Agent.Key,
				Text: res.Text,
			})
		}
		for _, m := range res.Scratchpad {
			st.addMessage(m)
		}
		results = append(results, res)
	}

	emit(core.NewRoundEndEvent(1))
	st.output = composeDirect(results)
	return ctx.Err()
}

// runOrchestrated bridges the consultation engine to models, billing and
// staging. The engine owns the state machine; the closures here own every
// side effect.
func (e *Executor) runOrchestrated(
	ctx context.Context,
	req Request,
	env *environment,
	bounded *budget.Bounded,
	st *staging,
	emit func(core.TurnEvent),
) error {
	room := env.room
	managerAlias := room.ManagerModelAlias
	if managerAlias == "" {
		managerAlias = room.Roster[0].ModelAlias
	}
	managerModel, err := e.models.Resolve(managerAlias)
	if err != nil {
		return fmt.Errorf("manager model %q: %w", managerAlias, err)
	}

	callManager := func(ctx context.Context, purpose, prompt string) (string, error) {
		respCh, errCh := managerModel.Generate(ctx, model.Request{
			Instructions:    "You are the manager model coordinating a team of specialist agents.",
			Messages:        []model.ChatMessage{{Role: "user", Text: prompt}},
			MaxOutputTokens: bounded.OutputBudget,
		})
		resp, err := model.Collect(ctx, respCh, errCh)
		if err != nil {
			return "", err
		}
		if resp.Usage != nil {
			st.bill(managerAgentKey, managerAlias, *resp.Usage)
		}
		e.logger.Debug("manager call purpose=%s turn_id=%s", purpose, st.turn.ID)
		return resp.Text, nil
	}

	// Concurrent specialists park their artifacts here; staging in round
	// and selection order happens after the loop from the outcome record.
	var mu sync.Mutex
	artifacts := make(map[string]invocationResult)
	artifactKey := func(round int, agentKey string) string {
		return fmt.Sprintf("%d/%s", round, agentKey)
	}

	runSpecialist := func(ctx context.Context, round int, agent core.AgentDef, instruction string, prior []orchestrate.RoundOutput) (string, error) {
		msgs := bounded.Messages
		if len(prior) > 0 {
			msgs = append(append([]model.ChatMessage{}, msgs...), priorToMessages(prior)...)
		}
		emit(core.NewAgentStartEvent(round, agent.Key))
		res := e.invokeAgent(ctx, invocation{
			Agent:        agent,
			Round:        round,
			Instruction:  instruction,
			Messages:     msgs,
			OutputBudget: bounded.OutputBudget,
			Stream:       req.Stream,
		}, st, emit)
		emit(core.NewAgentEndEvent(round, agent.Key, res.Text, res.Err))
		mu.Lock()
		artifacts[artifactKey(round, agent.Key)] = res
		mu.Unlock()
		return res.Text, res.Err
	}

	outcome, runErr := e.orchestrator.Run(ctx, orchestrate.Input{
		Goal:     room.Goal,
		UserText: req.UserText,
		Roster:   room.Roster,
	}, callManager, runSpecialist, emit)
	if outcome == nil {
		return runErr
	}

	for _, round := range outcome.Rounds {
		for _, ro := range round {
			if ro.Err != nil {
				st.markPartial()
				st.addMessage(core.NewErrorMessage(st.turn.ID, ro.Agent.Key, ro.Round, ro.Err))
				continue
			}
			st.addMessage(core.NewAgentMessage(st.turn.ID, ro.Agent.Key, ro.Round, ro.Text))
			if res, ok := artifacts[artifactKey(ro.Round, ro.Agent.Key)]; ok {
				for _, m := range res.Scratchpad {
					st.addMessage(m)
				}
			}
		}
	}
	if outcome.Synthesis != "" {
		st.addMessage(core.NewAgentMessage(st.turn.ID, managerAgentKey, 0, outcome.Synthesis))
	}
	if outcome.SynthesisErr != nil {
		st.markPartial()
		st.addMessage(core.NewErrorMessage(st.turn.ID, managerAgentKey, 0, outcome.SynthesisErr))
	}

	st.output = composeOrchestrated(outcome)
	return runErr
}

// invocation is one agent model call plus its optional tool round-trips.
type invocation struct {
	Agent        core.AgentDef
	Round        int
	Instruction  string
	Messages     []model.ChatMessage
	OutputBudget int
	Stream       bool
}

// invokeAgent drives one agent to a final text: model call, tool round-trips
// up to the configured cap, chunk forwarding when streaming. Usage is billed
// per model call as it resolves; the text and scratchpad come back to the
// caller for ordered staging.
func (e *Executor) invokeAgent(ctx context.Context, inv invocation, st *staging, emit func(core.TurnEvent)) invocationResult {
	result := invocationResult{AgentKey: inv.Agent.Key, Round: inv.Round}

	m, err := e.models.Resolve(inv.Agent.ModelAlias)
	if err != nil {
		result.Err = &core.AgentInvocationError{AgentKey: inv.Agent.Key, Round: inv.Round, Err: err}
		return result
	}

	var granted []tool.Tool
	if e.tools != nil {
		granted = e.tools.Granted(inv.Agent.ToolGrants)
	}

	instructions := inv.Agent.SystemPrompt
	if inv.Instruction != "" {
		instructions = fmt.Sprintf("%s\n\nTask for this turn: %s", instructions, inv.Instruction)
	}

	msgs := make([]model.ChatMessage, len(inv.Messages))
	copy(msgs, inv.Messages)

	for callRound := 0; ; callRound++ {
		started := time.Now()
		respCh, errCh := m.Generate(ctx, model.Request{
			Instructions:    instructions,
			Messages:        msgs,
			Tools:           tool.Definitions(granted),
			MaxOutputTokens: inv.OutputBudget,
			Stream:          inv.Stream,
		})
		final, err := e.collect(ctx, inv, respCh, errCh, emit)
		if err != nil {
			e.logger.Warn("model call failed agent=%s alias=%s elapsed=%s: %v",
				inv.Agent.Key, inv.Agent.ModelAlias, time.Since(started), err)
			result.Err = &core.AgentInvocationError{AgentKey: inv.Agent.Key, Round: inv.Round, Err: err}
			return result
		}
		if final.Usage != nil {
			st.bill(inv.Agent.Key, inv.Agent.ModelAlias, *final.Usage)
		}

		if len(final.ToolCalls) == 0 || callRound >= e.maxToolRounds {
			result.Text = final.Text
			return result
		}

		// Tool round-trip: run the requested tools, append the traces and
		// loop back with the results in context.
		msgs = append(msgs, model.ChatMessage{
			Role:      "assistant",
			Name:      inv.Agent.Key,
			Text:      final.Text,
			ToolCalls: final.ToolCalls,
		})
		for _, call := range final.ToolCalls {
			text, trace := e.runTool(ctx, inv, call)
			msgs = append(msgs, model.ChatMessage{
				Role:       "tool",
				Text:       text,
				ToolCallID: call.ID,
			})
			result.Scratchpad = append(result.Scratchpad,
				core.NewScratchpadMessage(st.turn.ID, inv.Agent.Key, inv.Round, trace))
		}
	}
}

// collect drains one Generate call, forwarding chunk events for partial
// responses and returning the final response.
func (e *Executor) collect(
	ctx context.Context,
	inv invocation,
	respCh <-chan model.Response,
	errCh <-chan error,
	emit func(core.TurnEvent),
) (*model.Response, error) {
	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if inv.Stream && resp.Text != "" {
					emit(core.NewChunkEvent(inv.Round, inv.Agent.Key, resp.Text))
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if final == nil {
		return nil, fmt.Errorf("model %s produced no final response", inv.Agent.ModelAlias)
	}
	return final, nil
}

// runTool executes one requested tool call. Failures come back as error text
// for the model to react to; the trace always lands in the scratchpad.
func (e *Executor) runTool(ctx context.Context, inv invocation, call model.ToolCall) (text, trace string) {
	started := time.Now()

	fail := func(err error) (string, string) {
		e.logger.Warn("tool call failed agent=%s tool=%s elapsed=%s: %v",
			inv.Agent.Key, call.Name, time.Since(started), err)
		msg := fmt.Sprintf("tool %s failed: %v", call.Name, err)
		return msg, fmt.Sprintf("call %s args=%s\n%s", call.Name, call.Arguments, msg)
	}

	if !inv.Agent.HasGrant(call.Name) {
		return fail(fmt.Errorf("agent %s holds no grant for tool %s", inv.Agent.Key, call.Name))
	}
	t, err := e.tools.Lookup(call.Name)
	if err != nil {
		return fail(err)
	}
	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fail(fmt.Errorf("bad arguments: %w", err))
		}
	}
	res, err := t.Invoke(ctx, args)
	if err != nil {
		return fail(err)
	}

	e.logger.Debug("tool call agent=%s tool=%s elapsed=%s", inv.Agent.Key, call.Name, time.Since(started))
	return res.Text, fmt.Sprintf("call %s args=%s\n%s", call.Name, call.Arguments, res.Text)
}

// priorToMessages renders earlier same-turn specialist outputs as assistant
// messages so later rounds build on them.
func priorToMessages(prior []orchestrate.RoundOutput) []model.ChatMessage {
	var out []model.ChatMessage
	for _, ro := range prior {
		if ro.Err != nil {
			continue
		}
		out = append(out, model.ChatMessage{
			Role: "assistant",
			Name: ro.Agent.Key,
			Text: ro.Text,
		})
	}
	return out
}
