package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionJSON builds a minimal successful completion body.
func completionJSON(id, content string) string {
	return fmt.Sprintf(
		`{"id":%q,"choices":[{"index":0,"message":{"role":"assistant","content":%q}}],"usage":{"prompt_tokens":5,"completion_tokens":3}}`,
		id, content)
}

// startClient serves h on a local listener and points a client at it.
func startClient(t *testing.T, h http.HandlerFunc, opts ...Option) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test-key", append([]Option{WithBaseURL(srv.URL)}, opts...)...)
}

// ask sends one user question with default settings.
func ask(c Client) (*ChatCompletionResponse, error) {
	return c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "When did Vincent Price die?"}},
	})
}

func decodeBody(t *testing.T, r *http.Request) ChatCompletionRequest {
	t.Helper()
	var req ChatCompletionRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestChatCompletion_Success(t *testing.T) {
	c := startClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON("cmpl-123", "He died in October 1993."))
	})

	resp, err := ask(c)
	require.NoError(t, err)
	assert.Equal(t, "cmpl-123", resp.ID)
	assert.Equal(t, "He died in October 1993.", resp.FirstContent())
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
}

func TestChatCompletion_ErrorStatuses(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"rate limit exceeded"}`, "unexpected status 429"},
		{"server error", http.StatusInternalServerError, `{"error":"internal server error"}`, "unexpected status 500"},
		{"bad json", http.StatusOK, `{invalid json`, "unmarshal response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			resp, err := ask(c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Nil(t, resp)
		})
	}
}

func TestChatCompletion_CitationsAndSources(t *testing.T) {
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-cite",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Lung cancer, per his obituary."}}],
			"citations": ["https://www.nytimes.com/1993/10/26/obituaries/vincent-price.html", "https://en.wikipedia.org/wiki/Vincent_Price"],
			"search_results": [
				{"title": "Vincent Price, 82, Dies", "url": "https://www.nytimes.com/1993/10/26/obituaries/vincent-price.html", "date": "1993-10-26"}
			],
			"usage": {"prompt_tokens": 20, "completion_tokens": 8}
		}`)
	})

	resp, err := ask(c)
	require.NoError(t, err)
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, "https://www.nytimes.com/1993/10/26/obituaries/vincent-price.html", resp.Citations[0])
	require.Len(t, resp.SearchResults, 1)
	assert.Equal(t, "Vincent Price, 82, Dies", resp.SearchResults[0].Title)
}

func TestChatCompletion_ModelSelection(t *testing.T) {
	cases := []struct {
		name      string
		opts      []Option
		reqModel  string
		wantModel string
	}{
		{"default model", nil, "", "sonar"},
		{"option override", []Option{WithModel("sonar-pro")}, "", "sonar-pro"},
		{"request override", []Option{WithModel("sonar-pro")}, "sonar-reasoning", "sonar-reasoning"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			c := startClient(t, func(w http.ResponseWriter, r *http.Request) {
				got = decodeBody(t, r).Model
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, completionJSON("m", "ok"))
			}, tc.opts...)

			_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
				Model:    tc.reqModel,
				Messages: []Message{{Role: "user", Content: "x"}},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantModel, got)
		})
	}
}

func TestChatCompletion_OptionalParamsOnWire(t *testing.T) {
	var raw map[string]any
	c := startClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw = map[string]any{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON("p", "ok"))
	})

	// Nil pointers stay off the wire entirely.
	_, err := ask(c)
	require.NoError(t, err)
	assert.NotContains(t, raw, "temperature")
	assert.NotContains(t, raw, "max_tokens")

	temp := 0.2
	maxTok := 500
	_, err = c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages:    []Message{{Role: "user", Content: "x"}},
		Temperature: &temp,
		MaxTokens:   &maxTok,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, raw["temperature"], 1e-9)
	assert.EqualValues(t, 500, raw["max_tokens"])
}

func TestChatCompletion_ContextAlreadyCancelled(t *testing.T) {
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON("1", "ok"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ChatCompletion(ctx, ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	hc := NewClient("my-key").(*httpClient)

	assert.Equal(t, "my-key", hc.apiKey)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, defaultModel, hc.model)
	require.NotNil(t, hc.http)
	assert.NotNil(t, hc.http.Transport)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	custom := &http.Client{}
	hc := NewClient("k", WithHTTPClient(custom)).(*httpClient)
	assert.Same(t, custom, hc.http)
}

func TestAPIError_SurfacesStatusAndBody(t *testing.T) {
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"invalid api key"}`)
	})

	_, err := ask(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid api key")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestChatCompletion_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"internal server error"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON("retry-ok", "recovered"))
	})

	resp, err := ask(c)
	require.NoError(t, err)
	assert.Equal(t, "retry-ok", resp.ID)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestChatCompletion_RetriesRateLimit(t *testing.T) {
	var attempts atomic.Int32
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":"rate limit exceeded"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON("rate-ok", "ok"))
	})

	resp, err := ask(c)
	require.NoError(t, err)
	assert.Equal(t, "rate-ok", resp.ID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestChatCompletion_ClientErrorFailsFast(t *testing.T) {
	var attempts atomic.Int32
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad request"}`)
	})

	_, err := ask(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestChatCompletion_GivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"internal server error"}`)
	})

	_, err := ask(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(maxRetryAttempts), attempts.Load())
}

func TestChatCompletion_CancelDuringBackoff(t *testing.T) {
	var attempts atomic.Int32
	c := startClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"internal server error"}`)
	})

	// The first backoff is 500ms, so a 100ms cancel lands inside it.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := c.ChatCompletion(ctx, ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts.Load(), int32(maxRetryAttempts))
}
