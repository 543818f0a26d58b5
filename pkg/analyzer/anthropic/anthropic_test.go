package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/analyzer"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   []sdk.MessageNewParams
	replies []string
	err     error
	block   bool
}

func (f *fakeClient) New(ctx context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, body)
	n := len(f.calls)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	if f.err != nil {
		return nil, f.err
	}

	reply := f.replies[min(n, len(f.replies))-1]

	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: reply}}}, nil
}

func writePhoto(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xe0}, 0o600))

	return path
}

func TestAnalyze_SingleStage(t *testing.T) {
	t.Parallel()

	client := &fakeClient{replies: []string{"Here you go:\n```json\n{\"overall_score\": 8.5,\n \"scores\": {\"composition\": 9}}\n```"}}
	a := NewWithClient(client, Config{})

	out, err := a.Analyze(context.Background(), analyzer.Request{
		ItemID: "a.jpg",
		Path:   writePhoto(t, "a.jpg"),
		Prompt: "You are a photo competition juror.",
		Rubric: []byte(`{"theme":"urban"}`),
		Mode:   analyzer.ModeSingle,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"overall_score":8.5,"scores":{"composition":9}}`, string(out))

	require.Len(t, client.calls, 1)
	assert.Equal(t, sdk.Model(DefaultModel), client.calls[0].Model)
	assert.Equal(t, int64(DefaultMaxTokens), client.calls[0].MaxTokens)
	require.Len(t, client.calls[0].System, 1)
	assert.Equal(t, "You are a photo competition juror.", client.calls[0].System[0].Text)
	assert.Equal(t, DefaultModel, a.ModelID())
}

func TestAnalyze_MultiStageMakesTwoCalls(t *testing.T) {
	t.Parallel()

	client := &fakeClient{replies: []string{"A lone figure under a streetlight.", `{"overall_score":7}`}}
	a := NewWithClient(client, Config{Model: "claude-haiku-4-5", MaxTokens: 512})

	out, err := a.Analyze(context.Background(), analyzer.Request{
		ItemID: "b.png",
		Path:   writePhoto(t, "b.PNG"),
		Mode:   analyzer.ModeMulti,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"overall_score":7}`, string(out))
	assert.Len(t, client.calls, 2)
	assert.Equal(t, "claude-haiku-4-5", a.ModelID())
	assert.Empty(t, client.calls[0].System)
}

func TestAnalyze_InvalidInput(t *testing.T) {
	t.Parallel()

	a := NewWithClient(&fakeClient{}, Config{})

	_, err := a.Analyze(context.Background(), analyzer.Request{Path: writePhoto(t, "notes.txt")})
	assert.Equal(t, analyzer.KindInvalidInput, analyzer.Classify(err))

	_, err = a.Analyze(context.Background(), analyzer.Request{Path: filepath.Join(t.TempDir(), "missing.jpg")})
	assert.Equal(t, analyzer.KindInvalidInput, analyzer.Classify(err))
}

func TestAnalyze_NoJSONInReply(t *testing.T) {
	t.Parallel()

	a := NewWithClient(&fakeClient{replies: []string{"I cannot score this."}}, Config{})

	_, err := a.Analyze(context.Background(), analyzer.Request{Path: writePhoto(t, "c.jpg")})
	require.ErrorIs(t, err, ErrNoJSON)
	assert.Equal(t, analyzer.KindUnknown, analyzer.Classify(err))
}

func TestAnalyze_DeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	a := NewWithClient(&fakeClient{block: true}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Analyze(ctx, analyzer.Request{Path: writePhoto(t, "d.jpg")})
	require.ErrorIs(t, err, analyzer.ErrTimeout)
}

func TestAnalyze_APIErrorsClassified(t *testing.T) {
	t.Parallel()

	apiErr := func(status int) error {
		return &sdk.Error{
			StatusCode: status,
			Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
			Response:   &http.Response{StatusCode: status},
		}
	}

	tests := []struct {
		name string
		err  error
		want analyzer.ErrorKind
	}{
		{name: "overloaded", err: apiErr(http.StatusServiceUnavailable), want: analyzer.KindConnection},
		{name: "rate_limited", err: apiErr(http.StatusTooManyRequests), want: analyzer.KindConnection},
		{name: "bad_request", err: apiErr(http.StatusBadRequest), want: analyzer.KindInvalidInput},
		{name: "gateway_timeout", err: apiErr(http.StatusGatewayTimeout), want: analyzer.KindTimeout},
		{name: "transport", err: errors.New("connection reset by peer"), want: analyzer.KindConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewWithClient(&fakeClient{err: tt.err}, Config{})

			_, err := a.Analyze(context.Background(), analyzer.Request{Path: writePhoto(t, "e.webp")})
			assert.Equal(t, tt.want, analyzer.Classify(err))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	out, err := extractJSON("prefix {\"a\": {\"b\": 1}} suffix")
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":1}}`, string(out))

	_, err = extractJSON("} backwards {")
	require.ErrorIs(t, err, ErrNoJSON)

	_, err = extractJSON("{not json}")
	require.ErrorIs(t, err, ErrNoJSON)
}
