package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wirego/internal/appstate"
	"github.com/matheus3301/wirego/internal/bus"
	"github.com/matheus3301/wirego/internal/health"
	"github.com/matheus3301/wirego/internal/outbox"
	"github.com/matheus3301/wirego/internal/socket"
	"github.com/matheus3301/wirego/internal/status"
	"github.com/matheus3301/wirego/internal/store"
	"github.com/matheus3301/wirego/internal/work"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fixture struct {
	client  *Client
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	app     *appstate.Tracker
}

// wsServer accepts websocket upgrades and keeps the sockets open.
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

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	b := bus.New()
	machine := status.NewMachine(b)
	app := appstate.New(b)
	conn := socket.NewConnection(socket.Options{
		BaseURL:  wsServer(t),
		ClientID: "client-1",
		Bus:      b,
		Machine:  machine,
	})
	t.Cleanup(func() { _ = conn.Close() })
	provider := socket.NewProvider(conn, nil)

	scheduler := work.NewScheduler(work.Options{Bus: b})
	scheduler.Start(ctx)
	t.Cleanup(scheduler.Stop)

	sessionSvc := NewSessionService("test", SessionDeps{
		Machine:   machine,
		Provider:  provider,
		App:       app,
		Health:    health.NewChecker(db, health.Options{}),
		Scheduler: scheduler,
		Bus:       b,
		DB:        db,
	})
	sender := outbox.NewSender(db, conn, b, outbox.Options{})
	convSvc := NewConversationService(db, sender, Sender{UserID: "me", ClientID: "client-1"})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, sessionSvc, convSvc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	return &fixture{client: NewClient(cc), db: db, bus: b, machine: machine, app: app}
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := grpcstatus.FromError(err)
	require.True(t, ok, "not a gRPC status: %v", err)
	require.Equal(t, code, st.Code(), st.Message())
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	resp, err := f.client.Status(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "test", resp["session"])
	require.Equal(t, "BOOTING", resp["status"])
	require.Equal(t, false, resp["connected"])
	require.Equal(t, false, resp["foreground"])
	require.Equal(t, float64(0), resp["conversation_count"])
	require.True(t, strings.HasSuffix(resp["url"].(string), "client-1"))
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	resp, err := f.client.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, true, resp["connected"])
	require.Equal(t, "CONNECTED", resp["status"])

	// Connect is idempotent.
	resp, err = f.client.Connect(ctx)
	require.NoError(t, err)
	require.Equal(t, true, resp["connected"])

	resp, err = f.client.Disconnect(ctx)
	require.NoError(t, err)
	require.Equal(t, false, resp["connected"])
	require.Equal(t, "DISCONNECTED", resp["status"])
}

func TestSetForeground(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	resp, err := f.client.SetForeground(ctx, true)
	require.NoError(t, err)
	require.Equal(t, true, resp["changed"])
	require.True(t, f.app.IsForeground())

	resp, err = f.client.SetForeground(ctx, true)
	require.NoError(t, err)
	require.Equal(t, false, resp["changed"])

	_, err = f.client.invoke(ctx, SessionServiceName, "SetForeground", map[string]any{"foreground": "yes"})
	requireCode(t, err, codes.InvalidArgument)
}

func TestCheckHealth(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	resp, err := f.client.CheckHealth(ctx)
	require.NoError(t, err)
	require.Equal(t, false, resp["should_start_persistent_socket"])

	require.NoError(t, f.db.UpsertAccount(ctx, &store.Account{UserID: "me", ClientID: "client-1", PersistentWebSocket: true}))
	require.NoError(t, f.db.TouchLastEvent(ctx, "me", time.Now().Add(-13*time.Hour)))

	resp, err = f.client.CheckHealth(ctx)
	require.NoError(t, err)
	require.Equal(t, true, resp["should_start_persistent_socket"])
	require.Equal(t, true, resp["unhealthy"])
}

func seedConversations(t *testing.T, db *store.DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.InsertContacts(ctx, []store.Contact{{ID: "id-1", Name: "Ada"}, {ID: "id-2", Name: "Linus"}}))
	require.NoError(t, db.InsertClients(ctx, []store.ContactClient{{UserID: "id-1", ID: "c-1"}, {UserID: "id-2", ID: "c-2"}}))
	require.NoError(t, db.InsertConversations(ctx, []store.Conversation{
		{ID: "conv-1", Name: "one"},
		{ID: "conv-2", Name: "two"},
		{ID: "conv-3", Name: "three"},
	}))
	require.NoError(t, db.InsertMembers(ctx, []store.ConversationMember{
		{ConversationID: "conv-2", ContactID: "id-1"},
		{ConversationID: "conv-2", ContactID: "ghost"},
	}))
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	seedConversations(t, f.db)
	ctx := testCtx(t)

	resp, err := f.client.ListConversations(ctx, 1, 2)
	require.NoError(t, err)
	items := resp["conversations"].([]any)
	require.Len(t, items, 2)

	first := items[0].(map[string]any)
	require.Equal(t, "conv-2", first["id"])
	members := first["members"].([]any)
	require.Len(t, members, 1)
	require.Equal(t, "Ada", members[0].(map[string]any)["name"])
	require.Equal(t, "conv-3", items[1].(map[string]any)["id"])

	resp, err = f.client.ListConversations(ctx, 10, 2)
	require.NoError(t, err)
	require.Empty(t, resp["conversations"])

	_, err = f.client.ListConversations(ctx, -1, 2)
	requireCode(t, err, codes.InvalidArgument)
}

func TestListClients(t *testing.T) {
	f := newFixture(t)
	seedConversations(t, f.db)
	ctx := testCtx(t)

	resp, err := f.client.ListClients(ctx, nil)
	require.NoError(t, err)
	require.Len(t, resp["clients"], 2)

	resp, err = f.client.ListClients(ctx, []string{"id-1", "unknown"})
	require.NoError(t, err)
	clients := resp["clients"].([]any)
	require.Len(t, clients, 1)
	require.Equal(t, "c-1", clients[0].(map[string]any)["id"])

	resp, err = f.client.ListClients(ctx, []string{"unknown-a", "unknown-b"})
	require.NoError(t, err)
	require.Empty(t, resp["clients"])
}

func TestSendTextAndListMessages(t *testing.T) {
	f := newFixture(t)
	seedConversations(t, f.db)
	ctx := testCtx(t)

	_, err := f.client.SendText(ctx, "missing", "hi")
	requireCode(t, err, codes.NotFound)

	_, err = f.client.SendText(ctx, "conv-1", "")
	requireCode(t, err, codes.InvalidArgument)

	resp, err := f.client.SendText(ctx, "conv-1", "hello")
	require.NoError(t, err)
	require.Equal(t, true, resp["accepted"])
	require.Equal(t, "pending", resp["state"])
	id := resp["message_id"].(string)

	resp, err = f.client.ListMessages(ctx, "conv-1", 0)
	require.NoError(t, err)
	msgs := resp["messages"].([]any)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	require.Equal(t, id, msg["id"])
	require.Equal(t, "hello", msg["content"])
	require.Equal(t, "me", msg["sender_user_id"])

	_, err = f.client.ListMessages(ctx, "", 0)
	requireCode(t, err, codes.InvalidArgument)
}

func TestWatchEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	before := f.bus.Subscribers()
	events := make(chan map[string]any, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- f.client.WatchEvents(ctx, "app.", func(evt map[string]any) error {
			events <- evt
			return nil
		})
	}()

	require.Eventually(t, func() bool { return f.bus.Subscribers() > before }, 2*time.Second, 10*time.Millisecond)
	f.app.SetForeground(true)
	// Outside the watched prefix.
	_ = f.machine.Transition(status.Disconnected)

	select {
	case evt := <-events:
		require.Equal(t, bus.KindForegroundChanged, evt["kind"])
		require.Equal(t, "test", evt["session"])
		require.Equal(t, map[string]any{"foreground": true}, evt["payload"])
	case <-ctx.Done():
		t.Fatal("timeout waiting for event")
	}

	cancel()
	err := <-errc
	if err != nil {
		requireCode(t, err, codes.Canceled)
	}
	require.Empty(t, events)
}
