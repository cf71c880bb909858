// Package router turns decrypted client requests into response payloads:
// cache lookup, bounded downstream invocation, applicant lookup and
// conversation history bookkeeping.
package router

import (
	"strconv"
	"strings"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

const (
	InstructionAI    = "AI"
	InstructionGrade = "grade"
)

// Client-facing error and notice texts.
const (
	ErrUnknownInstruction = "Unknown instruction"
	ErrAIUnavailable      = "AI service unavailable"
	ErrRequestCancelled   = "Request cancelled"

	NoticeLookupUnavailable = "Applicant database is currently unavailable; answering without records."
)

// Request is one decrypted client_request.
type Request struct {
	Instruction  string `json:"instruction"`
	Message      string `json:"message"`
	ConnectionID string `json:"-"`
	User         string `json:"-"`
}

// Payload is the response body sent back to the client. Payloads returned
// from the cache are shared; callers must not modify DBResults.
type Payload struct {
	Message             string          `json:"message,omitempty"`
	Result              string          `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	DBResults           []models.Record `json:"db_results,omitempty"`
	DBLookupUnavailable bool            `json:"dbLookupUnavailable,omitempty"`
	Notice              string          `json:"notice,omitempty"`
	AIUnavailable       bool            `json:"aiUnavailable,omitempty"`
}

// ErrorPayload builds a payload carrying only an error message.
func ErrorPayload(msg string) Payload {
	return Payload{Error: msg}
}

// CacheKey length-prefixes the instruction so distinct pairs never collide.
func CacheKey(instruction, message string) string {
	var b strings.Builder
	b.Grow(len(instruction) + len(message) + 8)
	b.WriteString(strconv.Itoa(len(instruction)))
	b.WriteByte(':')
	b.WriteString(instruction)
	b.WriteByte(':')
	b.WriteString(message)
	return b.String()
}

func knownInstruction(instruction string) bool {
	return instruction == InstructionAI || instruction == InstructionGrade
}
