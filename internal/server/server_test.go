package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/shelli-go/internal/config"
	"github.com/comigor/shelli-go/internal/conversation"
	"github.com/comigor/shelli-go/internal/llm"
	"github.com/comigor/shelli-go/internal/pipeline"
	"github.com/comigor/shelli-go/internal/telemetry"
)

type streamItem struct {
	resp openai.ChatCompletionStreamResponse
	err  error
}

type fixedStream struct {
	items []streamItem
	mu    sync.Mutex
}

func (f *fixedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item.resp, item.err
}

func (f *fixedStream) Close() error { return nil }

type fixedClient struct {
	chunks []string
}

func (c *fixedClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (llm.ChunkStream, error) {
	stream := &fixedStream{}
	for _, text := range c.chunks {
		stream.items = append(stream.items, streamItem{resp: openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: text},
			}},
		}})
	}
	stream.items = append(stream.items, streamItem{resp: openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonStop}},
	}})
	stream.items = append(stream.items, streamItem{err: io.EOF})
	return stream, nil
}

type nopExporter struct{}

func (nopExporter) Submit(telemetry.CompletionSpanRecord) {}

func newTestServer(chunks ...string) *Server {
	store := conversation.NewStore("sys", "")
	store.Open(DefaultSession)
	pipe := pipeline.New(store, &fixedClient{chunks: chunks}, nopExporter{}, config.LLMConfig{
		Model:             "gpt-3.5-turbo",
		Temperature:       1.0,
		TopP:              1.0,
		InactivityTimeout: time.Second,
	})
	return New(pipe)
}

func TestChatThenStream(t *testing.T) {
	srv := newTestServer("Hel", "lo")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "data: Hel\n\ndata: lo\n\n", string(body))
}

func TestChatUnknownSession(t *testing.T) {
	srv := newTestServer()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat?session=ghost", "application/json", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/stream?session=ghost")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResetReseedsHistory(t *testing.T) {
	srv := newTestServer("ok")
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"message":"one"}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"message":"two"}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"two"`)
	require.NotContains(t, string(body), `"one"`)
}

func TestChatRejectsBadBody(t *testing.T) {
	srv := newTestServer()
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
