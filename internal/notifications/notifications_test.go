package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/cell-balancer/internal/config"
)

func TestNewNtfy_DisabledWithoutTopic(t *testing.T) {
	assert.Nil(t, NewNtfy(config.Notify{NtfyURL: "http://localhost"}))
}

func TestNtfy_DeliversQueuedAlertsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var m message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewNtfy(config.Notify{NtfyURL: srv.URL + "/", NtfyTopic: "cells"})
	require.NotNil(t, n)

	n.Alert("THERMAL_STOP", "safety_cutoff")
	n.Alert("REGULATOR_FAULT", "")
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, message{Topic: "cells", Title: "THERMAL_STOP", Message: "safety_cutoff"}, got[0])
	assert.Equal(t, "REGULATOR_FAULT", got[1].Title)
}

func TestNtfy_SendReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &Ntfy{client: srv.Client(), url: srv.URL, topic: "cells"}
	err := n.send(message{Topic: "cells", Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNtfy_AlertDropsWhenQueueFull(t *testing.T) {
	n := &Ntfy{topic: "cells", queue: make(chan message, 1)}
	n.Alert("first", "")
	n.Alert("second", "")

	require.Len(t, n.queue, 1)
	assert.Equal(t, "first", (<-n.queue).Title)
}
