package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/lexshard/lexshard/internal/domain"
)

// openaiChatResponse mirrors the OpenAI-compatible chat completion response.
type openaiChatResponse struct {
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func chatServer(t *testing.T, content string, capture *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}

		resp := openaiChatResponse{Object: "chat.completion", Model: "test-model"}
		resp.Choices = append(resp.Choices, struct {
			Index   int `json:"index"`
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}{FinishReason: "stop"})
		resp.Choices[0].Message.Role = "assistant"
		resp.Choices[0].Message.Content = content
		resp.Usage.PromptTokens = 30
		resp.Usage.CompletionTokens = 12
		resp.Usage.TotalTokens = 42

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestLLM_Complete(t *testing.T) {
	var captured map[string]any
	server := chatServer(t, "Contract Obligations", &captured)
	defer server.Close()

	llm := NewLLM(&LLMConfig{
		APIKey:   "test-key",
		BaseURL:  server.URL,
		Model:    "test-model",
		Provider: "test",
		Logger:   zap.NewNop(),
	})

	got, err := llm.Complete(context.Background(), "You name legal domains.", "Name this cluster.")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Contract Obligations" {
		t.Errorf("content = %q, expected %q", got, "Contract Obligations")
	}

	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first role = %v, expected system", first["role"])
	}
	if _, ok := captured["response_format"]; ok {
		t.Error("Complete must not send response_format")
	}
}

func TestLLM_CompleteJSONSetsResponseFormat(t *testing.T) {
	var captured map[string]any
	server := chatServer(t, `{"confidence":0.8}`, &captured)
	defer server.Close()

	llm := NewLLM(&LLMConfig{
		APIKey:   "test-key",
		BaseURL:  server.URL,
		Model:    "test-model",
		Provider: "test",
		Logger:   zap.NewNop(),
	})

	if _, err := llm.CompleteJSON(context.Background(), "", "Assess the query."); err != nil {
		t.Fatalf("CompleteJSON failed: %v", err)
	}

	format, _ := captured["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("response_format = %v, expected json_object", format)
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 1 {
		t.Errorf("empty system prompt must be omitted, got %d messages", len(messages))
	}
}

func TestLLM_APIErrorWrapsSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "overloaded", "type": "server_error"},
		})
	}))
	defer server.Close()

	llm := NewLLM(&LLMConfig{
		APIKey:   "test-key",
		BaseURL:  server.URL,
		Model:    "test-model",
		Provider: "test",
		Logger:   zap.NewNop(),
	})

	_, err := llm.Complete(context.Background(), "", "hello")
	if !errors.Is(err, domain.ErrLLMProviderError) {
		t.Fatalf("error = %v, expected ErrLLMProviderError", err)
	}
}
