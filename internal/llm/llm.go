// Package llm provides the chat-completion client used by the processing
// stages (scoring, selection, deep analysis).
package llm

import "context"

// Client is a chat-completion interface. Implementations must be safe
// for concurrent use.
type Client interface {
	// Complete sends a system+user prompt pair and returns the raw text
	// of the first choice.
	Complete(ctx context.Context, system, user string) (string, error)

	// CompleteJSON requests a JSON-object response and unmarshals it
	// into out. Markdown fences and surrounding prose are tolerated.
	CompleteJSON(ctx context.Context, system, user string, out any) error
}
