package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/budget"
	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/dispatch"
	"github.com/parleyhq/parley/ledger"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/model"
	"github.com/parleyhq/parley/orchestrate"
	"github.com/parleyhq/parley/tool"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Budgeter bounds prompt context per turn.
	Budgeter *budget.Budgeter
	// Orchestrator runs manager-routed consultation loops.
	Orchestrator *orchestrate.Engine
	// Tools is the grant-gated tool registry (nil disables tool use).
	Tools *tool.Registry
	// Policy is the process-wide billing policy cell.
	Policy *ledger.Policy
	// EventBufferSize sets channel buffering for turn events.
	EventBufferSize int
	// MaxToolRounds bounds tool round-trips per agent invocation.
	MaxToolRounds int
	// Logger receives execution diagnostics.
	Logger logging.Logger
}

// Executor runs turns against a store and a model resolver. Public methods
// are safe for concurrent use; turns for different sessions share no state.
type Executor struct {
	store  core.Store
	models model.Resolver

	budgeter     *budget.Budgeter
	orchestrator *orchestrate.Engine
	tools        *tool.Registry
	policy       *ledger.Policy

	eventBufferSize int
	maxToolRounds   int
	logger          logging.Logger
}

// New constructs an Executor with optional overrides.
func New(store core.Store, models model.Resolver, optFns ...func(o *Options)) *Executor {
	opts := Options{
		Budgeter:        budget.New(),
		Orchestrator:    orchestrate.New(),
		Policy:          ledger.NewPolicy(ledger.NewStaticCatalog("default", nil, 1.0)),
		EventBufferSize: 64,
		MaxToolRounds:   2,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{
		store:           store,
		models:          models,
		budgeter:        opts.Budgeter,
		orchestrator:    opts.Orchestrator,
		tools:           opts.Tools,
		policy:          opts.Policy,
		eventBufferSize: opts.EventBufferSize,
		maxToolRounds:   opts.MaxToolRounds,
		logger:          opts.Logger,
	}
}

// Request is one turn submission. ModeOverride, when set, applies for this
// turn only and never mutates the persisted room mode.
type Request struct {
	SessionID    string
	UserText     string
	ModeOverride core.Mode
	// Stream requests incremental chunk events from providers.
	Stream bool
}

// Run starts an asynchronous turn execution. It returns an ordered event
// channel (closed on completion) and a terminal error channel (size 1).
// Rejections and commit failures arrive on the error channel; a committed
// turn terminates the event stream with a done event.
func (e *Executor) Run(ctx context.Context, req Request) (<-chan core.TurnEvent, <-chan error) {
	eventsCh := make(chan core.TurnEvent, e.eventBufferSize)
	errorsCh := make(chan error, 1)

	go func() {
		defer close(eventsCh)
		defer close(errorsCh)

		emit := func(ev core.TurnEvent) {
			select {
			case <-ctx.Done():
			case eventsCh <- ev:
			}
		}

		result, err := e.run(ctx, req, emit)
		if err != nil {
			errorsCh <- err
			return
		}
		emit(core.NewDoneEvent(result))
	}()

	return eventsCh, errorsCh
}

// Execute runs a turn synchronously, draining the event sequence to
// completion and returning the committed result.
func (e *Executor) Execute(ctx context.Context, req Request) (*core.Result, error) {
	eventsCh, errorsCh := e.Run(ctx, req)

	var result *core.Result
	for ev := range eventsCh {
		if ev.Kind == core.EventDone {
			result = ev.Result
		}
	}
	if err := <-errorsCh; err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ctx.Err()
	}
	return result, nil
}

// run executes the turn pipeline: resolve -> preflight -> budget -> dispatch
// -> invoke -> stage -> commit.
func (e *Executor) run(ctx context.Context, req Request, emit func(core.TurnEvent)) (*core.Result, error) {
	started := time.Now()

	session, err := e.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, core.NewValidationError(core.ReasonBadSession, "session %s: %v", req.SessionID, err)
	}
	if err := session.Validate(); err != nil {
		return nil, core.NewValidationError(core.ReasonBadSession, "%v", err)
	}

	env, err := e.resolveEnvironment(ctx, session, req.ModeOverride)
	if err != nil {
		return nil, err
	}

	// Wallet preflight happens before any model call so work that would be
	// rejected is never paid for.
	policy := e.policy.Snapshot()
	if policy.Enforcement {
		balance, err := e.store.Balance(ctx, session.UserID)
		if err != nil {
			return nil, fmt.Errorf("wallet preflight: %w", err)
		}
		if balance <= 0 {
			return nil, &core.InsufficientBalanceError{UserID: session.UserID, Balance: balance}
		}
	}

	index, err := e.store.NextTurnIndex(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("next turn index: %w", err)
	}
	turn := core.Turn{
		ID:        core.NewID(),
		SessionID: session.ID,
		Index:     index,
		Mode:      env.mode,
		UserText:  req.UserText,
		Created:   time.Now().UTC(),
	}

	history, err := e.store.History(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	bounded, err := e.budgeter.Prepare(budget.Input{
		TurnID:     turn.ID,
		History:    history,
		UserText:   req.UserText,
		ModelLimit: env.modelLimit,
	})
	if err != nil {
		// Context-budget rejection: zero model calls, zero writes.
		return nil, err
	}

	plan, err := env.plan(req.UserText)
	if err != nil {
		return nil, err
	}

	st := newStaging(turn, bounded, policy)
	execErr := e.executePlan(ctx, req, env, plan, bounded, st, emit)
	if execErr != nil && len(st.usage) == 0 {
		// Nothing billed yet: surface the failure with zero side effects.
		return nil, execErr
	}

	staged := st.finish()
	// Commit must survive a cancelled stream: billed work is persisted
	// all-or-nothing even when the client went away mid-turn.
	commitCtx := ctx
	if execErr != nil {
		commitCtx = context.WithoutCancel(ctx)
	}
	if err := e.store.CommitTurn(commitCtx, staged); err != nil {
		return nil, err
	}

	balance, err := e.store.Balance(context.WithoutCancel(ctx), session.UserID)
	if err != nil {
		balance = 0
		e.logger.Warn("balance read after commit failed: %v", err)
	}

	e.logger.Info("turn committed session_id=%s turn_id=%s index=%d status=%s invocations=%d elapsed=%s",
		session.ID, staged.Turn.ID, staged.Turn.Index, staged.Turn.Status, len(staged.Usage), time.Since(started))

	return &core.Result{
		TurnID:     staged.Turn.ID,
		TurnIndex:  staged.Turn.Index,
		SessionID:  session.ID,
		Mode:       staged.Turn.Mode,
		Status:     staged.Turn.Status,
		OutputText: staged.Turn.OutputText,
		Credits:    -staged.CreditsBurned(),
		Balance:    balance,
		LowBalance: balance < policy.LowBalanceThreshold,
	}, nil
}

// environment is the resolved execution scope of one turn.
type environment struct {
	session    *core.Session
	room       *core.Room
	standalone *core.AgentDef
	mode       core.Mode
	modelLimit int
}

// plan resolves the dispatch plan for this turn's user text.
func (env *environment) plan(userText string) (*dispatch.Plan, error) {
	if env.standalone != nil {
		return dispatch.ResolveStandalone(*env.standalone), nil
	}
	return dispatch.Resolve(env.mode, userText, env.room)
}

func (e *Executor) resolveEnvironment(ctx context.Context, session *core.Session, override core.Mode) (*environment, error) {
	env := &environment{session: session}

	if session.Standalone() {
		agent, err := e.store.GetAgent(ctx, session.AgentKey)
		if err != nil {
			return nil, core.NewValidationError(core.ReasonBadSession, "agent %s: %v", session.AgentKey, err)
		}
		env.standalone = agent
		env.mode = core.ModeManual
		limit, err := e.contextLimit([]core.AgentDef{*agent}, "")
		if err != nil {
			return nil, err
		}
		env.modelLimit = limit
		return env, nil
	}

	room, err := e.store.GetRoom(ctx, session.RoomID)
	if err != nil {
		return nil, core.NewValidationError(core.ReasonBadSession, "room %s: %v", session.RoomID, err)
	}
	if err := room.Validate(); err != nil {
		return nil, core.NewValidationError(core.ReasonUnsupportedMode, "%v", err)
	}
	env.room = room
	env.mode = room.Mode
	if override != "" {
		if !override.Valid() {
			return nil, core.NewValidationError(core.ReasonUnsupportedMode, "mode override %q", override)
		}
		env.mode = override
	}

	manager := ""
	if env.mode == core.ModeOrchestrator {
		manager = room.ManagerModelAlias
		if manager == "" {
			manager = room.Roster[0].ModelAlias
		}
	}
	limit, err := e.contextLimit(room.Roster, manager)
	if err != nil {
		return nil, err
	}
	env.modelLimit = limit
	return env, nil
}

// contextLimit returns the smallest context window across the models a turn
// may touch, so one bounded message set is valid for every invocation.
func (e *Executor) contextLimit(roster []core.AgentDef, managerAlias string) (int, error) {
	limit := 0
	consider := func(alias string) error {
		m, err := e.models.Resolve(alias)
		if err != nil {
			return core.NewValidationError(core.ReasonBadSession, "model alias %q: %v", alias, err)
		}
		if w := m.Info().ContextWindow; limit == 0 || w < limit {
			limit = w
		}
		return nil
	}
	for _, a := range roster {
		if err := consider(a.ModelAlias); err != nil {
			return 0, err
		}
	}
	if managerAlias != "" {
		if err := consider(managerAlias); err != nil {
			return 0, err
		}
	}
	return limit, nil
}
