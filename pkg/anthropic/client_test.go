package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient is a testify mock for the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestClient_Mockable(t *testing.T) {
	ctx := context.Background()
	req := MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "How did Fred Astaire die?"}},
	}

	mc := new(MockClient)
	mc.On("CreateMessage", ctx, req).Return(&MessageResponse{
		ID:         "msg_123",
		Model:      req.Model,
		Content:    []ContentBlock{{Type: "text", Text: "Pneumonia, in 1987."}},
		StopReason: "end_turn",
		Usage:      TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil)

	resp, err := mc.CreateMessage(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "msg_123", resp.ID)
	assert.Equal(t, "Pneumonia, in 1987.", resp.FirstText())
	mc.AssertExpectations(t)
}

func TestFirstText(t *testing.T) {
	tests := []struct {
		name string
		resp MessageResponse
		want string
	}{
		{
			name: "skips non-text blocks",
			resp: MessageResponse{Content: []ContentBlock{
				{Type: "thinking", Text: "hmm"},
				{Type: "text", Text: "the answer"},
				{Type: "text", Text: "second block"},
			}},
			want: "the answer",
		},
		{name: "empty response", resp: MessageResponse{}, want: ""},
		{
			name: "no text blocks",
			resp: MessageResponse{Content: []ContentBlock{{Type: "tool_use"}}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.FirstText())
		})
	}
}

func TestToSDKMessages_RoleMapping(t *testing.T) {
	sdkMsgs := toSDKMessages([]Message{
		{Role: "user", Content: "Who played Dracula in 1931?"},
		{Role: "assistant", Content: "Bela Lugosi."},
	})
	require.Len(t, sdkMsgs, 2)
	assert.EqualValues(t, "user", sdkMsgs[0].Role)
	assert.EqualValues(t, "assistant", sdkMsgs[1].Role)
}

func TestToSDKSystemBlocks_CacheControl(t *testing.T) {
	sdkBlocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "You are a film historian."},
		{Text: "Context data here.", CacheControl: &CacheControl{TTL: "5m"}},
	})
	require.Len(t, sdkBlocks, 2)
	assert.Equal(t, "You are a film historian.", sdkBlocks[0].Text)
	assert.Equal(t, "Context data here.", sdkBlocks[1].Text)
}

func TestFromSDKMessage(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{
		ID:           "msg_test_123",
		Model:        "claude-sonnet-4-5-20250929",
		StopReason:   "end_turn",
		StopSequence: "STOP",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Hello world"},
			{Type: "text", Text: "Second block"},
		},
		Usage: sdk.Usage{
			InputTokens:              100,
			OutputTokens:             50,
			CacheCreationInputTokens: 2000,
			CacheReadInputTokens:     3000,
		},
	})
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_123", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "STOP", resp.StopSequence)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "Hello world", resp.Content[0].Text)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(2000), resp.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(3000), resp.Usage.CacheReadInputTokens)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{
		ID:         "msg_empty",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "max_tokens",
	})
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Zero(t, resp.Usage.InputTokens)
}

func TestStatusCode_NonSDKError(t *testing.T) {
	_, ok := StatusCode(assert.AnError)
	assert.False(t, ok)
}
