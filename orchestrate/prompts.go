package orchestrate

import (
	"fmt"
	"strings"
)

func routePrompt(in Input, round int, prior []RoundOutput) string {
	var sb strings.Builder
	sb.WriteString("You are the manager of a team of specialist agents.\n")
	fmt.Fprintf(&sb, "Team goal: %s\n\nAvailable specialists:\n", in.Goal)
	for _, a := range in.Roster {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Key, a.Description)
	}
	fmt.Fprintf(&sb, "\nUser request:\n%s\n", in.UserText)
	if len(prior) > 0 {
		sb.WriteString("\nSpecialist output so far:\n")
		writeOutputs(&sb, prior)
	}
	fmt.Fprintf(&sb, "\nThis is round %d. Select the specialists to consult next (1-3, "+
		"or set \"everyone\" for the full team), each optionally with a tailored instruction.\n", round)
	sb.WriteString(`Reply with JSON only: {"agents":[{"key":"...","instruction":"..."}],"everyone":false}`)
	return sb.String()
}

func evalPrompt(in Input, outputs []RoundOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Team goal: %s\n\nUser request:\n%s\n\nAccumulated specialist output:\n", in.Goal, in.UserText)
	writeOutputs(&sb, outputs)
	sb.WriteString("\nDoes the team need another consultation round before a final answer can be written?\n")
	sb.WriteString(`Reply with JSON only: {"continue":true} or {"continue":false}`)
	return sb.String()
}

func synthesisPrompt(in Input, outputs []RoundOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Team goal: %s\n\nUser request:\n%s\n\nSpecialist contributions:\n", in.Goal, in.UserText)
	writeOutputs(&sb, outputs)
	sb.WriteString("\nWrite the single consolidated answer for the user, drawing on every useful contribution. Reply with the answer only.")
	return sb.String()
}

func writeOutputs(sb *strings.Builder, outputs []RoundOutput) {
	for _, out := range outputs {
		if out.Err != nil {
			fmt.Fprintf(sb, "[round %d] %s: (failed: %v)\n", out.Round, out.Agent.Key, out.Err)
			continue
		}
		fmt.Fprintf(sb, "[round %d] %s: %s\n", out.Round, out.Agent.Key, out.Text)
	}
}
