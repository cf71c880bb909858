package providers

import (
	"context"
	"fmt"
)

// EchoProcessor answers locally without any downstream service. It is used
// for development and plaintext debugging.
type EchoProcessor struct{}

// Name returns "echo".
func (EchoProcessor) Name() string { return "echo" }

// Process echoes the rendered prompt, prefixed by the mode.
func (EchoProcessor) Process(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", req.Mode, req.Prompt()), nil
}
