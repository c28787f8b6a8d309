package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_NoopWhenURLEmpty(t *testing.T) {
	n := New("")
	require.NoError(t, n.Send(context.Background(), "should not send"))
}

func TestSend_PostsJSONPayload(t *testing.T) {
	var received slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	require.NoError(t, n.Send(context.Background(), "residual position alert"))
	assert.Equal(t, "residual position alert", received.Text)
}

func TestSend_ErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL)
	assert.Error(t, n.Send(context.Background(), "x"))
}

func TestResidualPositionMessage_Format(t *testing.T) {
	msg := ResidualPositionMessage("0xP1", "0xU1", "0.95")
	assert.Contains(t, msg, "0xP1")
	assert.Contains(t, msg, "0xU1")
	assert.Contains(t, msg, "0.95")
}
