// Package providers adapts downstream text-generation services to the
// gateway's Processor interface.
package providers

import (
	"context"
	"strings"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

// Mode selects how the downstream service treats a message.
type Mode string

const (
	ModeChat    Mode = "chat"
	ModeGrader  Mode = "grader"
	ModeSummary Mode = "summary"
)

// Turn is one prior message of a conversation.
type Turn struct {
	Role models.Role
	Text string
}

// Request is a single processor invocation.
type Request struct {
	Mode    Mode
	Message string
	History []Turn
}

// Prompt renders the history as role-labelled lines followed by the message.
func (r Request) Prompt() string {
	if len(r.History) == 0 {
		return r.Message
	}
	var b strings.Builder
	for _, turn := range r.History {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString(string(models.RoleUser))
	b.WriteString(": ")
	b.WriteString(r.Message)
	return b.String()
}

// Processor produces a text response for a request.
type Processor interface {
	Name() string
	Process(ctx context.Context, req Request) (string, error)
}

func systemPrompt(mode Mode) string {
	switch mode {
	case ModeGrader:
		return "You grade applicant submissions. Reply with the grade and at most two sentences of justification."
	case ModeSummary:
		return "You summarise applicant records for a recruiter. Use only the records provided and keep it brief."
	default:
		return "You are HireRanker, an assistant that helps recruiters review and rank applicants."
	}
}
