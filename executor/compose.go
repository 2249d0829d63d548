package executor

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/orchestrate"
)

// composeDirect renders a manual or roundtable turn's output: each agent's
// contribution under its key header, failures annotated in place.
func composeDirect(results []invocationResult) string {
	if len(results) == 1 && results[0].Err == nil {
		return results[0].Text
	}
	var sb strings.Builder
	for i, res := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n", res.AgentKey)
		if res.Err != nil {
			fmt.Fprintf(&sb, "(failed: %v)", res.Err)
			continue
		}
		sb.WriteString(res.Text)
	}
	return sb.String()
}

// composeOrchestrated renders a consultation outcome: the round-by-round
// specialist record in selection order, then the synthesis as its own
// trailing block. Partial turns without a synthesis still carry every
// surviving contribution.
func composeOrchestrated(outcome *orchestrate.Outcome) string {
	var sb strings.Builder
	for _, round := range outcome.Rounds {
		for _, ro := range round {
			if ro.Err != nil {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[round %d / %s]\n%s", ro.Round, ro.Agent.Key, ro.Text)
		}
	}
	if outcome.Synthesis != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[synthesis]\n%s", outcome.Synthesis)
	}
	return sb.String()
}
