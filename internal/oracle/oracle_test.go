package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pitcrew/pkg/config"
)

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"role":"assistant","content":"SEVERITY: HIGH"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", "phi3:mini", time.Second, zap.NewNop())
	reply, err := c.Chat(context.Background(), "diagnose")
	require.NoError(t, err)

	assert.Equal(t, "SEVERITY: HIGH", reply)
	assert.Equal(t, "phi3:mini", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "diagnose", got.Messages[0].Content)
}

func TestOllamaClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}},
		{"garbled body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("not json"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewOllamaClient(srv.URL, "m", time.Second, zap.NewNop())
			_, err := c.Chat(context.Background(), "p")
			assert.Error(t, err)
		})
	}
}

func TestOllamaClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewOllamaClient(url, "m", time.Second, zap.NewNop())
	_, err := c.Chat(context.Background(), "p")
	assert.Error(t, err)
}

func TestOpenAIClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ACTION: FIX"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("sk-test", srv.URL, "gpt-4o-mini", zap.NewNop())
	require.NoError(t, err)

	reply, err := c.Chat(context.Background(), "diagnose")
	require.NoError(t, err)
	assert.Equal(t, "ACTION: FIX", reply)
}

func TestNew(t *testing.T) {
	cfg := &config.Config{OracleProvider: config.OracleOllama, OracleModel: "m", OracleTimeout: time.Second}
	o, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, o)

	cfg.OracleProvider = config.OracleOpenAI
	_, err = New(cfg, zap.NewNop())
	assert.Error(t, err, "openai requires an api key")

	cfg.OracleAPIKey = "sk"
	o, err = New(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, o)

	cfg.OracleProvider = "bard"
	_, err = New(cfg, zap.NewNop())
	assert.Error(t, err)
}
