package llm

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/lifthrasiir/forkchat/internal/env"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

// Assistant produces the reply to a transcript that ends with a user message.
// Implementations must honor ctx cancellation.
type Assistant interface {
	Reply(ctx context.Context, transcript []Message) (string, error)
}

// New returns the assistant configured by config.
func New(config *env.EnvConfig) (Assistant, error) {
	switch provider := strings.ToLower(config.AssistantProvider()); provider {
	case "echo", "":
		log.Println("Using echo assistant")
		return EchoAssistant{}, nil
	case "openai":
		return NewOpenAIAssistant(config)
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", provider)
	}
}

// EchoAssistant repeats the last message back. It needs no credentials.
type EchoAssistant struct{}

func (EchoAssistant) Reply(ctx context.Context, transcript []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(transcript) == 0 {
		return "", fmt.Errorf("empty transcript")
	}
	return "You said: " + transcript[len(transcript)-1].Content, nil
}

// MockAssistant delegates to ReplyFunc, for tests.
type MockAssistant struct {
	ReplyFunc func(ctx context.Context, transcript []Message) (string, error)
}

func (m *MockAssistant) Reply(ctx context.Context, transcript []Message) (string, error) {
	return m.ReplyFunc(ctx, transcript)
}
