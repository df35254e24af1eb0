package ai

import "context"

// Client turns a compact artifact summary into a JSON interpretation.
type Client interface {
	Interpret(ctx context.Context, artifactURL, summary string) (string, error)
}
