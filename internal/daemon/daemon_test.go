package daemon

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wirego/internal/api"
	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/config"
	"github.com/matheus3301/wirego/internal/metrics"
	"github.com/matheus3301/wirego/internal/session"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/status"
	"github.com/matheus3301/wirego/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// shortHome points WIRE_HOME at a short /tmp path; Unix socket paths are
// limited to about 104 bytes on macOS.
func shortHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "wire-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("WIRE_HOME", dir)
	return dir
}

// wsServer accepts websocket upgrades and holds the sockets open until the
// client leaves.
func wsServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			defer func() { _ = c.Close() }()
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/await?client="
}

func testConfig(baseURL string, persistent bool) *config.Config {
	cfg := config.Default()
	cfg.Socket.BaseURL = baseURL
	cfg.Account = config.AccountConfig{UserID: "me", ClientID: "client-1", PersistentWebSocket: persistent}
	cfg.Log.Level = "error"
	return cfg
}

func dial(t *testing.T, socketPath string) *api.Client {
	t.Helper()
	c, err := api.Dial(socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func statusOf(t *testing.T, c *api.Client) map[string]any {
	t.Helper()
	resp, err := tryStatus(c)
	require.NoError(t, err)
	return resp
}

// tryStatus is safe to call from require.Eventually conditions.
func tryStatus(c *api.Client) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Status(ctx)
}

func statusField(c *api.Client, key string) any {
	resp, err := tryStatus(c)
	if err != nil {
		return nil
	}
	return resp[key]
}

// TestFxModuleWiring verifies the fx dependency graph resolves and a
// persistent account brings the socket up on start.
func TestFxModuleWiring(t *testing.T) {
	shortHome(t)
	p := Params{SessionName: "fxtest", Config: testConfig(wsServer(t), true)}

	app := fxtest.New(t, Module(p))
	app.RequireStart()
	defer app.RequireStop()

	c := dial(t, session.SocketPath("fxtest"))
	require.Eventually(t, func() bool {
		return statusField(c, "connected") == true
	}, 5*time.Second, 20*time.Millisecond)

	resp := statusOf(t, c)
	require.Equal(t, "fxtest", resp["session"])
	require.Equal(t, "CONNECTED", resp["status"])
	require.Equal(t, true, resp["foreground"])

	// The session files live under WIRE_HOME.
	_, err := os.Stat(session.AppDBPath("fxtest"))
	require.NoError(t, err)
	_, err = os.Stat(session.LogPath("fxtest"))
	require.NoError(t, err)
}

// TestNonPersistentSessionStaysDisconnected verifies the daemon leaves
// BOOTING even when no persistent socket is wanted, and that an explicit
// Connect still works.
func TestNonPersistentSessionStaysDisconnected(t *testing.T) {
	shortHome(t)
	p := Params{SessionName: "manual", Config: testConfig(wsServer(t), false)}

	app := fxtest.New(t, Module(p))
	app.RequireStart()
	defer app.RequireStop()

	c := dial(t, session.SocketPath("manual"))
	require.Eventually(t, func() bool {
		return statusField(c, "status") == "DISCONNECTED"
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, false, statusOf(t, c)["foreground"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, true, resp["connected"])
}

// TestSecondDaemonIsRejected verifies the session lock keeps a second daemon
// for the same session from starting.
func TestSecondDaemonIsRejected(t *testing.T) {
	home := shortHome(t)
	cfg := testConfig(wsServer(t), false)

	first := fxtest.New(t, Module(Params{SessionName: "locked", Config: cfg}))
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(fx.NopLogger, Module(Params{
		SessionName: "locked",
		SocketPath:  filepath.Join(home, "second.sock"),
		Config:      cfg,
	}))
	require.Error(t, second.Err())
	require.Contains(t, second.Err().Error(), "session lock held")
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "wire-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "wire.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Migrate()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.InsertConversation(ctx, &store.Conversation{ID: "conv-1", Name: "team"}))

	b := bus.New()
	machine := status.NewMachine(b)
	sessionSvc := api.NewSessionService("test", api.SessionDeps{Machine: machine, Bus: b, DB: db})
	convSvc := api.NewConversationService(db, nil, api.Sender{})

	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop(), sessionSvc, convSvc)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	defer srv.Stop(ctx)

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	c := dial(t, socketPath)
	resp := statusOf(t, c)
	require.Equal(t, "BOOTING", resp["status"])
	require.Equal(t, float64(1), resp["conversation_count"])

	convs, err := c.ListConversations(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, convs["conversations"], 1)

	// Socket-backed calls report Unavailable without a socket.
	_, err = c.Connect(ctx)
	require.Error(t, err)
	_, err = c.SendText(ctx, "conv-1", "hi")
	require.Error(t, err)
}

func TestServerHealthTracksSocket(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "wire-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(tmpDir) }()
	socketPath := filepath.Join(tmpDir, "h.sock")

	b := bus.New()
	sessionSvc := api.NewSessionService("test", api.SessionDeps{Bus: b})
	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, zap.NewNop(), sessionSvc, api.NewConversationService(nil, nil, api.Sender{}))
	require.NoError(t, err)
	go func() { _ = srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer srv.Stop(ctx)
	srv.TrackSocket(ctx, b)

	cc, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = cc.Close() }()
	hc := healthpb.NewHealthClient(cc)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(api.SessionServiceName))

	b.Emit(bus.KindSocketConnected, nil)
	require.Eventually(t, func() bool {
		return check(api.SessionServiceName) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	b.Emit(bus.KindSocketFailure, nil)
	require.Eventually(t, func() bool {
		return check(api.SessionServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPRoutes(t *testing.T) {
	b := bus.New()
	machine := status.NewMachine(b)
	conn := socket.NewConnection(socket.Options{BaseURL: "ws://127.0.0.1:1/await?client=", ClientID: "c"})
	m := metrics.New(b.Dropped)

	srv := httptest.NewServer(NewRouter("test", machine, conn, m))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	code, body = get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, body, `"connected":false`)

	code, body = get("/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "wire_socket_connected")
	require.Contains(t, body, "wire_bus_dropped_events_total")
}

func TestHTTPServerDisabledWithoutAddr(t *testing.T) {
	h := NewHTTPServer("", http.NotFoundHandler(), zap.NewNop())
	require.Nil(t, h)
	require.NoError(t, h.Start())
	require.NoError(t, h.Stop(context.Background()))
}

func TestLoadConfig(t *testing.T) {
	home := shortHome(t)
	t.Setenv("WIRE_LOG_LEVEL", "")

	cfg, err := LoadConfig("work", "")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.DirExists(t, session.Dir("work"))

	alt := filepath.Join(home, "alt.toml")
	require.NoError(t, os.WriteFile(alt, []byte("[log]\nlevel = \"debug\"\n"), 0o600))
	cfg, err = LoadConfig("work", alt)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("WIRE_LOG_LEVEL", "warn")
	cfg, err = LoadConfig("work", alt)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
}
