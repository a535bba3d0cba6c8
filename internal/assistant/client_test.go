// SPDX-License-Identifier: MIT

package assistant

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDeliversFramedLines(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	c := New(mock.URL, "")
	sb, err := c.Stream(context.Background(), "what meetings do I have", "")
	require.NoError(t, err)
	defer sb.Body.Close() //nolint:errcheck

	scanner := bufio.NewScanner(sb.Body)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 5)
	assert.Equal(t, `data: {"type":"plan_generation_started"}`, lines[0])
	assert.Equal(t, `data: {"type":"stream_completed"}`, lines[4])
}

func TestStreamCharsetExposed(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetCharset("ISO-8859-1")

	c := New(mock.URL, "")
	sb, err := c.Stream(context.Background(), "q", "")
	require.NoError(t, err)
	defer sb.Body.Close() //nolint:errcheck
	assert.Equal(t, "ISO-8859-1", sb.Charset)
}

func TestStreamBearerToken(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetToken("secret")

	_, err := New(mock.URL, "wrong").Stream(context.Background(), "q", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	sb, err := New(mock.URL, "secret").Stream(context.Background(), "q", "")
	require.NoError(t, err)
	sb.Body.Close() //nolint:errcheck
}

func TestStreamNon2xxStatus(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetStreamStatus(http.StatusBadGateway)

	_, err := New(mock.URL, "").Stream(context.Background(), "q", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendError)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestStreamConnectionFailure(t *testing.T) {
	_, err := New("http://127.0.0.1:1", "").Stream(context.Background(), "q", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestQueryFallback(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.SetQueryResult(QueryResult{Response: "short", FullResponse: "long"})

	res, err := New(mock.URL, "").Query(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "short", res.Response)
	assert.Equal(t, "long", res.FullResponse)
	assert.Equal(t, 1, mock.QueryCalls())
}

func TestQueryMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Query(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	// Burst 1, then the second call must wait ~1s; a canceled context
	// aborts the wait.
	c := New(mock.URL, "", WithRateLimit(1, 1))
	_, err := c.Query(context.Background(), "q")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Query(ctx, "q")
	require.Error(t, err)
}
