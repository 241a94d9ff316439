package llm

import "context"

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client sends prompts to a single model per call. Implementations hold no
// per-request state and are shared by concurrent requests.
type Client interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
	Stream(ctx context.Context, model string, messages []Message) (FragmentStream, error)
}

// FragmentStream yields text fragments in provider order. Recv returns
// io.EOF after the last fragment.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}
