package budget

import (
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/logging"
	"github.com/parleyhq/parley/model"
)

// Options tune the budgeting cascade. Zero values fall back to defaults.
type Options struct {
	// MaxOutputTokens caps the reserved completion budget before the 20%
	// model-limit clamp applies.
	MaxOutputTokens int
	// OverheadFloor is the minimum token reserve for framing overhead.
	OverheadFloor int
	// SummarizeRatio triggers summarization at this fraction of the input budget.
	SummarizeRatio float64
	// SummarizeTurnThreshold triggers summarization after this many turns
	// since the last digest regardless of size.
	SummarizeTurnThreshold int
	// PruneRatio triggers pruning at this fraction of the input budget.
	PruneRatio float64
	// KeepRecentTurns raw turns are always retained verbatim.
	KeepRecentTurns int
	// Estimator overrides the default character heuristic.
	Estimator Estimator
	// Logger receives cascade decisions.
	Logger logging.Logger
}

// Budgeter applies the summarize -> prune -> reject cascade.
type Budgeter struct {
	opts   Options
	est    *safeEstimator
	logger logging.Logger
}

// New constructs a Budgeter with optional overrides.
func New(optFns ...func(o *Options)) *Budgeter {
	opts := Options{
		MaxOutputTokens:        4096,
		OverheadFloor:          256,
		SummarizeRatio:         0.70,
		SummarizeTurnThreshold: 8,
		PruneRatio:             0.90,
		KeepRecentTurns:        4,
		Logger:                 logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Budgeter{
		opts:   opts,
		est:    newSafeEstimator(opts.Estimator),
		logger: opts.Logger,
	}
}

// Input is the candidate prompt material for one turn.
type Input struct {
	TurnID     string
	History    []core.TurnRecord
	UserText   string
	ModelLimit int
	// Pinned message ids are never summarized or pruned.
	Pinned []string
}

// Bounded is the budgeting outcome: the bounded message set (chronological,
// ending with the new user message) plus the reserved output budget and the
// audit record. On rejection Messages is nil; the populated Audit is for
// logging and inspection only, since a rejected turn persists nothing.
type Bounded struct {
	Messages     []model.ChatMessage
	OutputBudget int
	Audit        core.BudgetAudit
	// Digest carries the synthetic digest text created by this invocation,
	// if summarization fired. Callers persist it as a system message of the
	// current turn so later turns can see the summary in history.
	Digest string
}

// item is one budgetable unit during the cascade.
type item struct {
	id       string
	role     string
	name     string
	text     string
	turnIdx  int
	digest   bool
	refed    bool // referenced by the digest's key facts
	protect  bool // system / latest user / unresolved turn / pinned / recent
	estimate int
}

// Prepare bounds the prompt for one turn. A *core.BudgetExceededError is
// returned when the cascade cannot fit the context into the input budget;
// zero model calls are involved either way.
func (b *Budgeter) Prepare(in Input) (*Bounded, error) {
	audit := core.BudgetAudit{
		ID:         core.NewID(),
		TurnID:     in.TurnID,
		ModelLimit: in.ModelLimit,
		Created:    time.Now().UTC(),
	}

	outputBudget := min(b.opts.MaxOutputTokens, in.ModelLimit/5)
	overhead := max(b.opts.OverheadFloor, in.ModelLimit/20)
	inputBudget := in.ModelLimit - outputBudget - overhead
	audit.InputBudget = inputBudget
	if inputBudget <= 0 {
		audit.Rejected = true
		return &Bounded{Audit: audit, OutputBudget: outputBudget}, &core.BudgetExceededError{
			Estimate:    0,
			InputBudget: inputBudget,
		}
	}

	items := b.collect(in)
	before := b.total(items)
	audit.EstimateBefore = before
	estimate := before

	var digestText string
	turnsSinceDigest := turnsSinceLastDigest(in.History)
	if estimate >= int(float64(inputBudget)*b.opts.SummarizeRatio) ||
		turnsSinceDigest >= b.opts.SummarizeTurnThreshold {
		items, digestText = b.summarize(items)
		estimate = b.total(items)
		audit.Summarized = digestText != ""
		b.logger.Debug("budget summarize fired turn_id=%s before=%d after=%d", in.TurnID, before, estimate)
	}

	if estimate >= int(float64(inputBudget)*b.opts.PruneRatio) {
		items = b.prune(items, inputBudget)
		estimate = b.total(items)
		audit.Pruned = true
		b.logger.Debug("budget prune fired turn_id=%s after=%d", in.TurnID, estimate)
	}

	audit.EstimateAfter = estimate
	if estimate > inputBudget {
		audit.Rejected = true
		b.logger.Warn("budget rejected turn_id=%s estimate=%d input_budget=%d", in.TurnID, estimate, inputBudget)
		return &Bounded{Audit: audit, OutputBudget: outputBudget}, &core.BudgetExceededError{
			Estimate:    estimate,
			InputBudget: inputBudget,
		}
	}

	return &Bounded{
		Messages:     toChatMessages(items),
		OutputBudget: outputBudget,
		Audit:        audit,
		Digest:       digestText,
	}, nil
}

// collect flattens history plus the new user message into budget items,
// marking the protected classes the cascade must never drop.
func (b *Budgeter) collect(in Input) []*item {
	pinned := make(map[string]bool, len(in.Pinned))
	for _, id := range in.Pinned {
		pinned[id] = true
	}
	recentFrom := len(in.History) - b.opts.KeepRecentTurns

	var items []*item
	for ti, tr := range in.History {
		resolved := tr.Resolved()
		recent := ti >= recentFrom
		for _, msg := range tr.Messages {
			if msg.Visibility == core.VisibilityPrivate {
				continue // scratchpads never re-enter prompts
			}
			it := &item{
				id:      msg.ID,
				role:    string(msg.Role),
				name:    msg.AgentKey,
				text:    msg.Text,
				turnIdx: ti,
				digest:  msg.Role == core.RoleSystem && strings.HasPrefix(msg.Text, digestHeader),
				protect: msg.Role == core.RoleSystem || pinned[msg.ID] || !resolved || recent,
			}
			if msg.IsError() {
				it.text = fmt.Sprintf("[error] %s", msg.Err)
			}
			it.estimate = b.est.Estimate(it.text) + perMessageOverhead
			items = append(items, it)
		}
	}

	// The latest user message is always retained.
	userItem := &item{
		id:      core.NewID(),
		role:    string(core.RoleUser),
		text:    in.UserText,
		turnIdx: len(in.History),
		protect: true,
	}
	userItem.estimate = b.est.Estimate(userItem.text) + perMessageOverhead
	return append(items, userItem)
}

func (b *Budgeter) total(items []*item) int {
	sum := 0
	for _, it := range items {
		sum += it.estimate
	}
	return sum
}

// summarize replaces the unprotected older range with one synthetic system
// digest block. Messages the digest quotes as key facts stay raw and are
// marked referenced so prune retains them.
func (b *Budgeter) summarize(items []*item) ([]*item, string) {
	var collapsible []*item
	for _, it := range items {
		if !it.protect && !it.digest {
			collapsible = append(collapsible, it)
		}
	}
	if len(collapsible) == 0 {
		return items, ""
	}

	digest, refs := buildDigest(collapsible)
	digestItem := &item{
		id:       core.NewID(),
		role:     string(core.RoleSystem),
		text:     digest,
		turnIdx:  collapsible[0].turnIdx,
		digest:   true,
		protect:  true,
		estimate: b.est.Estimate(digest) + perMessageOverhead,
	}

	out := make([]*item, 0, len(items))
	inserted := false
	for _, it := range items {
		if it.protect || it.digest {
			out = append(out, it)
			continue
		}
		if refs[it.id] {
			it.refed = true
			if !inserted {
				out = append(out, digestItem)
				inserted = true
			}
			out = append(out, it)
			continue
		}
		if !inserted {
			out = append(out, digestItem)
			inserted = true
		}
		// collapsed into the digest
	}
	return out, digest
}

// prune drops the oldest low-signal items until the estimate is back under
// the input budget. Digest blocks, referenced messages, pinned anchors and
// protected items survive.
func (b *Budgeter) prune(items []*item, inputBudget int) []*item {
	estimate := b.total(items)
	out := make([]*item, len(items))
	copy(out, items)
	for estimate > inputBudget {
		dropped := false
		for i, it := range out {
			if it.protect || it.digest || it.refed {
				continue
			}
			estimate -= it.estimate
			out = append(out[:i], out[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			break
		}
	}
	return out
}

func toChatMessages(items []*item) []model.ChatMessage {
	msgs := make([]model.ChatMessage, len(items))
	for i, it := range items {
		msgs[i] = model.ChatMessage{Role: it.role, Name: it.name, Text: it.text}
	}
	return msgs
}

func turnsSinceLastDigest(history []core.TurnRecord) int {
	for i := len(history) - 1; i >= 0; i-- {
		for _, msg := range history[i].Messages {
			if msg.Role == core.RoleSystem && strings.HasPrefix(msg.Text, digestHeader) {
				return len(history) - 1 - i
			}
		}
	}
	return len(history)
}
