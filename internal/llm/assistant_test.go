package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifthrasiir/forkchat/internal/env"
	. "github.com/lifthrasiir/forkchat/internal/types"
)

func transcript(contents ...string) []Message {
	var msgs []Message
	for i, content := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{ID: content, Role: role, Content: content})
	}
	return msgs
}

func TestEchoAssistant(t *testing.T) {
	reply, err := EchoAssistant{}.Reply(context.Background(), transcript("hi", "hello", "how are you"))
	require.NoError(t, err)
	assert.Equal(t, "You said: how are you", reply)

	_, err = EchoAssistant{}.Reply(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EchoAssistant{}.Reply(ctx, transcript("hi"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSelectsProvider(t *testing.T) {
	a, err := New(env.NewTestEnvConfig())
	require.NoError(t, err)
	assert.IsType(t, EchoAssistant{}, a)

	v := env.NewViper("")
	v.Set(env.KeyDataDir, t.TempDir())
	v.Set(env.KeyAssistantProvider, "carrier-pigeon")
	config, err := env.Load(v)
	require.NoError(t, err)
	_, err = New(config)
	assert.Error(t, err)
}

func TestOpenAIAssistant(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "fine, thanks"},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	defer srv.Close()

	v := env.NewViper("")
	v.Set(env.KeyDataDir, t.TempDir())
	v.Set(env.KeyAssistantProvider, "openai")
	v.Set(env.KeyAssistantAPIKey, "test-key")
	v.Set(env.KeyAssistantBaseURL, srv.URL+"/v1")
	v.Set(env.KeyAssistantModel, "tiny")
	config, err := env.Load(v)
	require.NoError(t, err)

	a, err := New(config)
	require.NoError(t, err)
	reply, err := a.Reply(context.Background(), transcript("hi", "hello", "how are you"))
	require.NoError(t, err)
	assert.Equal(t, "fine, thanks", reply)

	assert.Equal(t, "tiny", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "how are you", got.Messages[2].Content)
}

func TestOpenAIAssistantRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	v := env.NewViper("")
	v.Set(env.KeyDataDir, t.TempDir())
	v.Set(env.KeyAssistantProvider, "openai")
	config, err := env.Load(v)
	require.NoError(t, err)

	_, err = New(config)
	assert.Error(t, err)
}

func TestMockAssistant(t *testing.T) {
	m := &MockAssistant{ReplyFunc: func(ctx context.Context, transcript []Message) (string, error) {
		return "mocked", nil
	}}
	reply, err := m.Reply(context.Background(), transcript("hi"))
	require.NoError(t, err)
	assert.Equal(t, "mocked", reply)
}
