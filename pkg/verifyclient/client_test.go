package verifyclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "U1", req.UserID)
		assert.Equal(t, "70000000", req.SenderNumber)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"found":false,"not_ready":true,"message":"waiting","poll_after_seconds":10,"max_wait_seconds":300,"timestamp":"2024-03-10T12:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithBearerToken("tok"))
	resp, err := c.Verify(context.Background(), Request{UserID: "U1", SenderNumber: "70000000"})
	require.NoError(t, err)
	assert.True(t, resp.NotReady)
	assert.Equal(t, 10*time.Second, resp.PollAfter())
	assert.Equal(t, 300*time.Second, resp.MaxWait())
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limited","message":"too many requests"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Verify(context.Background(), Request{UserID: "U1", TransactionID: "TX1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limited", apiErr.Type)
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
	assert.True(t, apiErr.Temporary())
}

func TestClientErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Verify(context.Background(), Request{UserID: "U1", TransactionID: "TX1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "internal_server_error", apiErr.Type)
	assert.False(t, apiErr.Temporary())
}

func TestClientIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ingestPath, r.URL.Path)
		var n Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		assert.Equal(t, int64(5000), n.Amount)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"notification":{"id":"42","status":"pending"},"created":true}}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Ingest(context.Background(), Notification{Message: "recu 5000", Amount: 5000})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "42", res.Notification.ID)
}
