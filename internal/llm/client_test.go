package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"agrichat-backend/internal/common/config"
	"agrichat-backend/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string, maxRetries int) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "llama3-70b-8192",
		Temperature: 0.7,
		Timeout:     20000,
		MaxRetries:  maxRetries,
	}
}

func completionBody(content string) string {
	reply := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	b, _ := json.Marshal(reply)
	return string(b)
}

func TestChatCompletion_Success(t *testing.T) {
	var captured completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(completionBody(`{"intent": "Greeting"}`)))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 3), logger.NewTestLogger(t))

	reply, err := client.ChatCompletion(context.Background(), []Message{
		{Role: "system", Content: "classify"},
		{Role: "user", Content: "hello"},
	}, 512)

	require.NoError(t, err)
	assert.Equal(t, `{"intent": "Greeting"}`, reply)
	assert.Equal(t, "llama3-70b-8192", captured.Model)
	assert.Equal(t, 512, captured.MaxTokens)
	assert.Len(t, captured.Messages, 2)
}

func TestChatCompletion_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		// The request body must arrive intact on the retry too.
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Messages)
		w.Write([]byte(completionBody("ok")))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 3), logger.NewTestLogger(t))

	reply, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, 512)

	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChatCompletion_ExhaustionReturnsTransportError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 2), logger.NewTestLogger(t))

	_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, 512)

	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "every configured attempt is spent")
}

func TestChatCompletion_ContextDeadlineReturnsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 3), logger.NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.ChatCompletion(ctx, []Message{{Role: "user", Content: "hi"}}, 512)

	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChatCompletion_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 1), logger.NewTestLogger(t))

	_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}}, 512)

	assert.ErrorIs(t, err, ErrTransport)
}
