package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// evidenceLine matches evidence block entries such as "[S2] (00:10-00:25) text".
var evidenceLine = regexp.MustCompile(`^\[S(\d+)\]\s*(?:\([^)]*\)\s*)?(.+)$`)

// NoEvidenceAnswer is what the mock says when the prompt carries no evidence.
const NoEvidenceAnswer = "The transcript does not contain enough information to answer that."

// MockClient is a deterministic offline implementation of LLMClient.
// It answers from the first evidence line found in the prompt and cites it.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	responseContent := m.generateMockResponse(req)

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: responseContent,
				},
				FinishReason: "stop",
			},
		},
		Usage: m.usage(req, responseContent),
	}, nil
}

// CreateChatCompletionStream simulates a streaming response.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	responseContent := m.generateMockResponse(req)
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	chunks := splitIntoChunks(responseContent, 16)
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		finishReason := ""
		if i == len(chunks)-1 {
			finishReason = "stop"
		}

		streamChunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{
				{
					Index:        0,
					Delta:        &ChatMessage{Role: "assistant", Content: chunk},
					FinishReason: finishReason,
				},
			},
		}
		if err := callback(streamChunk); err != nil {
			return nil, err
		}
	}

	return m.usage(req, responseContent), nil
}

// generateMockResponse answers from the first evidence line in the prompt.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	for _, msg := range req.Messages {
		for _, line := range strings.Split(msg.Content, "\n") {
			match := evidenceLine.FindStringSubmatch(strings.TrimSpace(line))
			if match == nil {
				continue
			}
			return fmt.Sprintf("According to the transcript, %s [S%s]", strings.TrimSpace(match[2]), match[1])
		}
	}
	return NoEvidenceAnswer
}

func (m *MockClient) usage(req *ChatCompletionRequest, content string) *Usage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: len(content) / 4,
		TotalTokens:      prompt + len(content)/4,
	}
}

// splitIntoChunks splits a string into chunks of at most chunkSize runes,
// never cutting a multibyte character.
func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
