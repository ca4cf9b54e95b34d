package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-tracking-server/internal/domain"
)

func dialWS(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	if user != "" {
		header.Set(userHeader, user)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PushesStatusChanges(t *testing.T) {
	env := newAPIEnv(t)
	env.createDefinitions(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.Hub().Run(ctx)
	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn := dialWS(t, srv, "jdoe")
	require.Eventually(t, func() bool { return env.server.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EventSubscribers))

	var generated []domain.State
	rec := env.do(t, http.MethodPost, "/api/v1/tracking/analyses/analysis-1/generate",
		generateRequest{Targets: []domain.NextStateTarget{{Slug: "analysis"}}}, &generated)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var state domain.StatePublic
	rec = env.do(t, http.MethodPut, "/api/v1/tracking/states/"+generated[0].Ident+"/status/hold", nil, &state)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var event domain.Event
		require.NoError(t, json.Unmarshal(raw, &event))
		if event.Type != domain.EventStateStatusChange {
			continue
		}
		assert.Equal(t, "hold", event.Status)
		require.NotNil(t, event.State)
		assert.Equal(t, generated[0].Ident, event.State.Ident)
		break
	}
}

func TestHub_RequiresAuthentication(t *testing.T) {
	env := newAPIEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_DropsSlowClients(t *testing.T) {
	env := newAPIEnv(t)
	hub := env.server.Hub()

	client := &wsClient{id: "slow", send: make(chan []byte, 1)}
	hub.clientsMu.Lock()
	hub.clients[client.id] = client
	hub.clientsMu.Unlock()

	hub.broadcast([]byte(`{"n":1}`))
	assert.Equal(t, 1, hub.Clients())
	hub.broadcast([]byte(`{"n":2}`))
	assert.Equal(t, 0, hub.Clients())

	msg, ok := <-client.send
	assert.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(msg))
	_, ok = <-client.send
	assert.False(t, ok, "send channel is closed on drop")
}

func TestHub_ShutdownDisconnectsClients(t *testing.T) {
	env := newAPIEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.server.Hub().Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()
	conn := dialWS(t, srv, "jdoe")
	require.Eventually(t, func() bool { return env.server.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, env.server.Hub().Clients())
}
