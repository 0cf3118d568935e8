package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/lifthrasiir/forkchat/internal/env"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

// OpenAIAssistant answers through an OpenAI-compatible chat completion endpoint.
// The model is read from the config on every call so that reloads take effect.
type OpenAIAssistant struct {
	client *openai.Client
	config *env.EnvConfig
}

func NewOpenAIAssistant(config *env.EnvConfig) (*OpenAIAssistant, error) {
	apiKey := config.AssistantAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("assistant API key is not set (%s or OPENAI_API_KEY)", env.KeyAssistantAPIKey)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := config.AssistantBaseURL(); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	log.WithFields(log.Fields{
		"model":   config.AssistantModel(),
		"baseURL": clientConfig.BaseURL,
	}).Info("Initializing OpenAI assistant")

	return &OpenAIAssistant{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

func toOpenAIMessages(transcript []Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(transcript))
	for _, m := range transcript {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return messages
}

func (o *OpenAIAssistant) Reply(ctx context.Context, transcript []Message) (string, error) {
	model := o.config.AssistantModel()
	log.WithField("model", model).Debug("Requesting chat completion")

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(transcript),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	log.WithField("finish_reason", resp.Choices[0].FinishReason).Debug("Received chat completion")
	return resp.Choices[0].Message.Content, nil
}
