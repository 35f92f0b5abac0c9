package test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chatd/domain/event"
	"chatd/images"
	"chatd/moderation"
	"chatd/observability"
	"chatd/repositories"
	"chatd/runtime"
	"chatd/runtime/workers"
	"chatd/search"
	"chatd/services"
	"chatd/transport/rest"
	"chatd/transport/ws"
)

// node is the whole routing core wired together, listening on a test server.
type node struct {
	server *httptest.Server
	cfg    Config
}

func startNode(t *testing.T) *node {
	t.Helper()
	req := require.New(t)
	cfg, err := LoadConfig()
	req.NoError(err)
	log := logs.GetLoggerFromLevel(slog.LevelWarn)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	userRepo, err := repositories.NewUserRepository(db, log)
	req.NoError(err)
	messageRepo, err := repositories.NewMessageRepository(db, log)
	req.NoError(err)

	censor, err := moderation.NewCensor([]string{"badger"}, '*')
	req.NoError(err)

	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	events := make(chan event.DomainEvent, 64)
	hub := ws.NewHub(log)
	registry := runtime.NewRegistry(userRepo, log)
	messageService := services.NewMessageService(log, userRepo, messageRepo, hub, censor, events)
	lifecycleService := services.NewLifecycleService(log, registry, userRepo, messageService, hub, events)
	historyService := services.NewHistoryService(log, userRepo, messageRepo)
	imageService := images.NewService(log, t.TempDir(), 1<<20)
	index := search.NewIndex(writer, log)
	stats := observability.NewStats(log)

	ctx, cancel := context.WithCancel(context.Background())
	sup := workers.NewSupervisor(log)
	sup.Add(workers.NewEventFanout(log, events, time.Second, index, stats))
	go sup.Run(ctx)
	t.Cleanup(cancel)

	router := mux.NewRouter()
	router.Handle("/ws", ws.NewHandler(log, hub, lifecycleService, messageService, historyService))
	rest.NewServer(log, lifecycleService, historyService, imageService, index, stats).Routes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &node{server: server, cfg: cfg}
}

// chatClient is one websocket participant with a background frame reader.
type chatClient struct {
	t      *testing.T
	cfg    Config
	conn   *websocket.Conn
	frames chan ws.Outbound
}

func (n *node) connect(t *testing.T) *chatClient {
	t.Helper()
	url := strings.Replace(n.server.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	client := &chatClient{t: t, cfg: n.cfg, conn: conn, frames: make(chan ws.Outbound, 64)}
	go func() {
		defer close(client.frames)
		for {
			var out ws.Outbound
			if err := conn.ReadJSON(&out); err != nil {
				return
			}
			client.frames <- out
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return client
}

func (c *chatClient) send(frame any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

func (c *chatClient) join(username string) {
	c.t.Helper()
	c.send(map[string]string{"action": "join", "username": username})
}

// expect drains frames until one on the wanted channel satisfies the
// predicate; unrelated frames in between are skipped.
func (c *chatClient) expect(channel string, pred func(data map[string]any) bool) map[string]any {
	c.t.Helper()
	deadline := time.After(c.cfg.ReceiveTimeout)
	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				require.Fail(c.t, "Connection closed while waiting for "+channel)
				return nil
			}
			if frame.Channel != channel {
				continue
			}
			data, _ := frame.Data.(map[string]any)
			if pred == nil || pred(data) {
				return data
			}
		case <-deadline:
			require.Fail(c.t, "Timeout waiting for a frame on "+channel)
			return nil
		}
	}
}

// expectList is expect for channels whose payload is an array.
func (c *chatClient) expectList(channel string) []any {
	c.t.Helper()
	deadline := time.After(c.cfg.ReceiveTimeout)
	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				require.Fail(c.t, "Connection closed while waiting for "+channel)
				return nil
			}
			if frame.Channel != channel {
				continue
			}
			list, _ := frame.Data.([]any)
			return list
		case <-deadline:
			require.Fail(c.t, "Timeout waiting for a frame on "+channel)
			return nil
		}
	}
}

// expectSilence asserts no frame arrives on the channel within the window.
func (c *chatClient) expectSilence(channel string) {
	c.t.Helper()
	window := time.After(c.cfg.SilenceWindow)
	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				return
			}
			require.NotEqual(c.t, channel, frame.Channel,
				"Expected silence on %s but got %+v", channel, frame.Data)
		case <-window:
			return
		}
	}
}

func contentIs(want string) func(map[string]any) bool {
	return func(data map[string]any) bool {
		return data["content"] == want
	}
}

func (n *node) getEnvelope(t *testing.T, path string) map[string]any {
	t.Helper()
	resp, err := http.Get(n.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var envelope struct {
		Success bool `json:"success"`
		Data    any  `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	data, _ := envelope.Data.(map[string]any)
	return data
}

func Test_Scenario_GroupChat(t *testing.T) {
	req := require.New(t)
	n := startNode(t)

	// Given alice connects and joins
	alice := n.connect(t)
	alice.join("alice")

	// Then she sees her own arrival and the online list
	arrival := alice.expect("presence", nil)
	req.Equal("alice", arrival["username"])
	req.Equal("JOINED", arrival["status"])
	req.Len(alice.expectList("online-users"), 1)
	notice := alice.expect("group-chat", contentIs("alice joined the chat"))
	req.Equal("SYSTEM", notice["senderUsername"])

	// When bob joins, both sides see it
	bob := n.connect(t)
	bob.join("bob")
	bobArrival := alice.expect("presence", nil)
	req.Equal("bob", bobArrival["username"])
	bob.expect("presence", func(data map[string]any) bool {
		return data["username"] == "bob"
	})
	req.Len(bob.expectList("online-users"), 2)

	// When alice posts a group message, everyone receives it, sender included
	alice.send(map[string]string{
		"action": "send_group", "messageType": "TEXT", "content": "hello room",
	})
	fromAlice := bob.expect("group-chat", contentIs("hello room"))
	req.Equal("alice", fromAlice["senderUsername"])
	req.Equal(true, fromAlice["groupMessage"])
	alice.expect("group-chat", contentIs("hello room"))

	// And censoring happened before anyone saw the text
	alice.send(map[string]string{
		"action": "send_group", "messageType": "TEXT", "content": "you sneaky badger",
	})
	bob.expect("group-chat", contentIs("you sneaky ******"))

	// Then the history survives over REST, oldest first, notices excluded
	time.Sleep(100 * time.Millisecond)
	resp, err := http.Get(n.server.URL + "/api/messages/group?limit=10")
	req.NoError(err)
	defer resp.Body.Close()
	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&envelope))
	req.Len(envelope.Data, 2)
	req.Equal("hello room", envelope.Data[0]["content"])
	req.Equal("you sneaky ******", envelope.Data[1]["content"])

	// When bob disconnects, alice is told
	_ = bob.conn.Close()
	departure := alice.expect("presence", func(data map[string]any) bool {
		return data["status"] == "LEFT"
	})
	req.Equal("bob", departure["username"])
	req.Len(alice.expectList("online-users"), 1)
	alice.expect("group-chat", contentIs("bob left the chat"))
}

func Test_Scenario_PrivateMessaging(t *testing.T) {
	req := require.New(t)
	n := startNode(t)

	alice := n.connect(t)
	alice.join("alice")
	bob := n.connect(t)
	bob.join("bob")
	charlie := n.connect(t)
	charlie.join("charlie")

	// When alice whispers to bob
	alice.send(map[string]string{
		"action": "send_private", "receiverUsername": "bob",
		"messageType": "TEXT", "content": "meet at noon",
	})

	// Then bob gets it on the private channel and alice gets her echo
	received := bob.expect("private", contentIs("meet at noon"))
	req.Equal("alice", received["senderUsername"])
	req.Equal("bob", received["receiverUsername"])
	req.Equal(false, received["groupMessage"])
	alice.expect("private", contentIs("meet at noon"))

	// And charlie never sees any of it
	charlie.expectSilence("private")

	// When alice targets a username that does not exist
	alice.send(map[string]string{
		"action": "send_private", "receiverUsername": "ghost",
		"messageType": "TEXT", "content": "anyone there?",
	})

	// Then only alice hears about the failure
	failure := alice.expect("error", nil)
	req.Equal("USER_NOT_FOUND", failure["code"])
	bob.expectSilence("error")
	bob.expectSilence("private")

	// Then the conversation is waiting for bob with one unread message
	data := n.getEnvelope(t, "/api/messages/unread-count?username=bob")
	req.Equal(float64(1), data["unread"])

	// When bob opens the thread
	bob.send(map[string]string{"action": "mark_read", "otherUsername": "alice"})
	req.Eventually(func() bool {
		data := n.getEnvelope(t, "/api/messages/unread-count?username=bob")
		return data["unread"] == float64(0)
	}, n.cfg.ReceiveTimeout, 50*time.Millisecond)

	// And the stored message now reads as seen from both directions
	resp, err := http.Get(n.server.URL + "/api/messages/private?user1=bob&user2=alice")
	req.NoError(err)
	defer resp.Body.Close()
	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&envelope))
	req.Len(envelope.Data, 1)
	req.Equal(true, envelope.Data[0]["read"])
}

func Test_Scenario_RejoinUnderNewName(t *testing.T) {
	req := require.New(t)
	n := startNode(t)

	carol := n.connect(t)
	carol.join("carol")

	// Given a socket that joined as alice
	socket := n.connect(t)
	socket.join("alice")
	carol.expect("presence", func(data map[string]any) bool {
		return data["username"] == "alice"
	})

	// When the same socket joins again as bob
	socket.join("bob")
	carol.expect("presence", func(data map[string]any) bool {
		return data["username"] == "bob" && data["status"] == "JOINED"
	})

	// Then alice vanished from presence; only carol and bob remain
	req.Eventually(func() bool {
		data := n.getEnvelope(t, "/api/status")
		return data["onlineUsers"] == float64(2)
	}, n.cfg.ReceiveTimeout, 50*time.Millisecond)

	// And private delivery follows the new name, not the old one
	carol.send(map[string]string{
		"action": "send_private", "receiverUsername": "bob",
		"messageType": "TEXT", "content": "hello new you",
	})
	socket.expect("private", contentIs("hello new you"))
	carol.send(map[string]string{
		"action": "send_private", "receiverUsername": "alice",
		"messageType": "TEXT", "content": "hello old you",
	})
	socket.expectSilence("private")

	// When the socket closes, only bob departs
	_ = socket.conn.Close()
	departure := carol.expect("presence", func(data map[string]any) bool {
		return data["status"] == "LEFT"
	})
	req.Equal("bob", departure["username"])
	req.Eventually(func() bool {
		data := n.getEnvelope(t, "/api/status")
		return data["onlineUsers"] == float64(1)
	}, n.cfg.ReceiveTimeout, 50*time.Millisecond)
}

func Test_Scenario_SendWithoutJoining(t *testing.T) {
	req := require.New(t)
	n := startNode(t)

	// A connection that never joined has no identity to send as
	lurker := n.connect(t)
	lurker.send(map[string]string{
		"action": "send_group", "messageType": "TEXT", "content": "anonymous shout",
	})

	failure := lurker.expect("error", nil)
	req.Equal("USER_NOT_FOUND", failure["code"])
}

func Test_Scenario_SearchAfterFanout(t *testing.T) {
	req := require.New(t)
	n := startNode(t)

	alice := n.connect(t)
	alice.join("alice")
	alice.send(map[string]string{
		"action": "send_group", "messageType": "TEXT", "content": "deployment finished cleanly",
	})
	alice.expect("group-chat", contentIs("deployment finished cleanly"))

	// The index rides the async fanout, so give it a beat
	req.Eventually(func() bool {
		data := n.getEnvelope(t, "/api/messages/search?q=deployment")
		return data["total"] == float64(1)
	}, n.cfg.ReceiveTimeout, 50*time.Millisecond)
}

func Test_Scenario_StatusReflectsTraffic(t *testing.T) {
	req := require.New(t)
	n := startNode(t)

	alice := n.connect(t)
	alice.join("alice")
	alice.send(map[string]string{
		"action": "send_group", "messageType": "TEXT", "content": "counting me",
	})
	alice.expect("group-chat", contentIs("counting me"))

	req.Eventually(func() bool {
		data := n.getEnvelope(t, "/api/status")
		metrics, _ := data["metrics"].(map[string]any)
		if metrics == nil {
			return false
		}
		return data["onlineUsers"] == float64(1) &&
			metrics["group_messages"] == float64(1) &&
			metrics["joins"] == float64(1)
	}, n.cfg.ReceiveTimeout, 50*time.Millisecond)
}
