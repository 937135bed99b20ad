package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/conversa/internal/auth"
	"github.com/mossy-p/conversa/internal/bot"
	"github.com/mossy-p/conversa/internal/events"
	"github.com/mossy-p/conversa/internal/handlers"
	"github.com/mossy-p/conversa/internal/media"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/mossy-p/conversa/internal/repository"
	"github.com/mossy-p/conversa/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, _ []bot.Turn, prompt string) (string, error) {
	return "echo: " + prompt, nil
}

func newTestServer(t *testing.T, responder bot.Responder) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore()
	pub := events.Nop{}
	presence := realtime.NewLocalPresence()

	hub := realtime.NewHub(log, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	local, err := media.NewLocalStore(t.TempDir(), "http://localhost/uploads")
	require.NoError(t, err)

	tokens := auth.NewTokens("test-secret", time.Hour)
	users := service.NewUserService(store, presence, log)
	convs := service.NewConversationService(store, pub, log)
	msgs := service.NewMessageService(store, pub, log)
	fanout := handlers.NewFanout(hub, log)

	api := &handlers.API{
		Auth:          service.NewAuthService(store.Users, tokens, log),
		Users:         users,
		Conversations: convs,
		Messages:      msgs,
		Uploads:       media.NewUploader(local, 1<<20, 800, log),
		Fanout:        fanout,
		Log:           log,
	}
	socket := handlers.NewSocketHandler(handlers.SocketDeps{
		Hub:           hub,
		Users:         users,
		Conversations: convs,
		Messages:      msgs,
		Bot:           service.NewBotService(store, responder, 10, pub, log),
		Presence:      presence,
		Fanout:        fanout,
		Config:        realtime.DefaultClientConfig(),
	}, log)

	srv := httptest.NewServer(NewRouter(api, socket, Options{Tokens: tokens, UploadsDir: local.Dir()}, log))
	t.Cleanup(func() {
		srv.Close()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		assert.NoError(t, hub.Shutdown(shutdownCtx))
		cancel()
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type account struct {
	ID    string
	Token string
}

func register(t *testing.T, srv *httptest.Server, name, email string) account {
	t.Helper()
	var res handlers.AuthResponse
	status := call(t, srv, http.MethodPost, "/api/auth/register", "", gin.H{"name": name, "email": email, "password": "secret1"}, &res)
	require.Equal(t, http.StatusCreated, status)
	return account{ID: res.UserID, Token: res.Token}
}

func conversation(t *testing.T, srv *httptest.Server, caller account, members ...account) string {
	t.Helper()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	var view models.ConversationView
	status := call(t, srv, http.MethodPost, "/api/conversation", caller.Token, gin.H{"members": ids}, &view)
	require.Equal(t, http.StatusOK, status)
	return view.ID.Hex()
}

func dial(t *testing.T, srv *httptest.Server, a account) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + a.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	send(t, conn, models.EventSetup, a.ID)
	expect(t, conn, models.EventUserSetup)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event models.EventType, data any) {
	t.Helper()
	env, err := models.NewEnvelope(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// expect reads frames until event arrives, skipping unrelated ones.
func expect(t *testing.T, conn *websocket.Conn, event models.EventType) json.RawMessage {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env.Data
		}
		if env.Event == models.EventError {
			t.Fatalf("waiting for %s: got error %s", event, env.Data)
		}
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	var body map[string]string
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/health", "", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRoutes(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")

	assert.Equal(t, http.StatusConflict,
		call(t, srv, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Alice", "email": "alice@example.com", "password": "secret1"}, nil))
	assert.Equal(t, http.StatusBadRequest,
		call(t, srv, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Bob", "email": "not-an-email", "password": "secret1"}, nil))
	assert.Equal(t, http.StatusUnauthorized,
		call(t, srv, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alice@example.com", "password": "wrong1"}, nil))

	var res handlers.AuthResponse
	require.Equal(t, http.StatusOK,
		call(t, srv, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alice@example.com", "password": "secret1"}, &res))
	assert.Equal(t, alice.ID, res.UserID)

	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/api/auth/me", "", nil, nil))
	var me models.User
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/auth/me", res.Token, nil, &me))
	assert.Equal(t, "Alice", me.Name)
}

func TestMessagesOverREST(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	carol := register(t, srv, "Carol", "carol@example.com")
	convID := conversation(t, srv, alice, bob)

	var msg models.Message
	require.Equal(t, http.StatusOK,
		call(t, srv, http.MethodPost, "/api/message/send", alice.Token, gin.H{"conversationId": convID, "text": "hello"}, &msg))
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, alice.ID, msg.SenderID.Hex())

	assert.Equal(t, http.StatusBadRequest,
		call(t, srv, http.MethodPost, "/api/message/send", alice.Token, gin.H{"conversationId": convID, "text": "   "}, nil))

	var history []models.Message
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/message/"+convID, bob.Token, nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)

	assert.Equal(t, http.StatusForbidden, call(t, srv, http.MethodGet, "/api/message/"+convID, carol.Token, nil, nil))

	var list []models.ConversationView
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/conversation", bob.Token, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "hello", list[0].LatestMessage)

	require.Equal(t, http.StatusOK,
		call(t, srv, http.MethodPost, "/api/message/delete", bob.Token, gin.H{"messageid": msg.ID.Hex()}, nil))
	history = nil
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/message/"+convID, bob.Token, nil, &history))
	assert.Empty(t, history)
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/message/"+convID, alice.Token, nil, &history))
	assert.Len(t, history, 1, "deleting for yourself leaves the other side untouched")
}

func TestGroupRoutes(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	carol := register(t, srv, "Carol", "carol@example.com")

	var group models.ConversationView
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/conversation/group/create", alice.Token,
		gin.H{"name": "Hikers", "memberIds": []string{bob.ID}}, &group))
	assert.True(t, group.IsGroup)
	groupID := group.ID.Hex()

	assert.Equal(t, http.StatusForbidden, call(t, srv, http.MethodPut, "/api/conversation/group/add-members", bob.Token,
		gin.H{"conversationId": groupID, "memberIds": []string{carol.ID}}, nil))
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/conversation/group/add-members", alice.Token,
		gin.H{"conversationId": groupID, "memberIds": []string{carol.ID}}, nil))

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/conversation/group/leave", carol.Token,
		gin.H{"conversationId": groupID}, nil))
	assert.Equal(t, http.StatusForbidden, call(t, srv, http.MethodGet, "/api/conversation/"+groupID, carol.Token, nil, nil))

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodDelete, "/api/conversation/group/delete", alice.Token,
		gin.H{"conversationId": groupID}, nil))
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/conversation/"+groupID, alice.Token, nil, nil))
}

func TestSocketMessaging(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	convID := conversation(t, srv, alice, bob)

	a := dial(t, srv, alice)
	b := dial(t, srv, bob)

	send(t, a, models.EventJoinChat, models.JoinChatPayload{RoomID: convID})
	expect(t, a, models.EventUserJoinedRoom)

	send(t, a, models.EventSendMessage, models.SendMessagePayload{
		ConversationID: convID,
		SenderID:       bob.ID,
		Text:           "hi bob",
		ClientID:       "tmp-1",
	})

	var got models.Message
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventReceiveMessage), &got))
	assert.Equal(t, "hi bob", got.Text)
	assert.Equal(t, alice.ID, got.SenderID.Hex(), "the token decides the sender")
	assert.Equal(t, "tmp-1", got.ClientID)

	var notified models.Message
	require.NoError(t, json.Unmarshal(expect(t, b, models.EventNewMessageNotify), &notified))
	assert.Equal(t, got.ID, notified.ID)

	send(t, b, models.EventJoinChat, models.JoinChatPayload{RoomID: convID})
	expect(t, b, models.EventUserJoinedRoom)

	send(t, b, models.EventTyping, models.TypingPayload{ConversationID: convID})
	var typing models.TypingPayload
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventTyping), &typing))
	assert.Equal(t, bob.ID, typing.Typer)

	send(t, a, "no-such-event", nil)
	var failure models.ErrorPayload
	require.NoError(t, nextError(t, a, &failure))
	assert.Equal(t, models.EventType("no-such-event"), failure.Event)
}

// framesUntil reads frames until event arrives and returns the events that
// came before it.
func framesUntil(t *testing.T, conn *websocket.Conn, event models.EventType) []models.EventType {
	t.Helper()
	var seen []models.EventType
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return seen
		}
		seen = append(seen, env.Event)
	}
}

// flush sends an unknown event and returns every event received before the
// resulting error frame.
func flush(t *testing.T, conn *websocket.Conn) []models.EventType {
	t.Helper()
	send(t, conn, "flush", nil)
	return framesUntil(t, conn, models.EventError)
}

// nextError reads the next error frame into out.
func nextError(t *testing.T, c *websocket.Conn, out *models.ErrorPayload) error {
	t.Helper()
	for {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
		var env models.Envelope
		if err := c.ReadJSON(&env); err != nil {
			return err
		}
		if env.Event == models.EventError {
			return json.Unmarshal(env.Data, out)
		}
	}
}

func TestSetupRejectsForeignID(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + alice.Token
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	send(t, c, models.EventSetup, bob.ID)
	var failure models.ErrorPayload
	require.NoError(t, nextError(t, c, &failure))
	assert.Equal(t, models.EventSetup, failure.Event)
}

func TestCallSignaling(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	carol := register(t, srv, "Carol", "carol@example.com")
	abID := conversation(t, srv, alice, bob)
	cbID := conversation(t, srv, carol, bob)

	a := dial(t, srv, alice)
	b := dial(t, srv, bob)
	c := dial(t, srv, carol)

	send(t, a, models.EventCallInitiate, models.CallPayload{ToUserID: bob.ID, ConversationID: abID, CallType: models.CallTypeVideo})
	var incoming models.CallPayload
	require.NoError(t, json.Unmarshal(expect(t, b, models.EventIncomingCall), &incoming))
	assert.Equal(t, alice.ID, incoming.FromUserID)
	assert.Equal(t, models.CallTypeVideo, incoming.CallType)

	send(t, b, models.EventCallAccept, models.CallPayload{FromUserID: alice.ID, ConversationID: abID, CallType: models.CallTypeVideo})
	var accepted models.CallPayload
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventCallAccepted), &accepted))
	assert.Equal(t, bob.ID, accepted.ToUserID)
	assert.NotZero(t, accepted.AcceptedAt)

	offer := json.RawMessage(`{"toUserId":"` + bob.ID + `","sdp":{"type":"offer","sdp":"v=0"}}`)
	send(t, a, models.EventWebRTCOffer, offer)
	assert.JSONEq(t, string(offer), string(expect(t, b, models.EventWebRTCOffer)))

	send(t, c, models.EventCallInitiate, models.CallPayload{ToUserID: bob.ID, ConversationID: cbID})
	var busy models.CallBusyPayload
	require.NoError(t, json.Unmarshal(expect(t, c, models.EventCallBusy), &busy))
	assert.Equal(t, bob.ID, busy.ToUserID)

	send(t, a, models.EventCallEnd, models.RelayTarget{ToUserID: bob.ID})
	expect(t, b, models.EventCallEnded)

	send(t, c, models.EventCallInitiate, models.CallPayload{ToUserID: bob.ID, ConversationID: cbID})
	require.NoError(t, json.Unmarshal(expect(t, b, models.EventIncomingCall), &incoming))
	assert.Equal(t, carol.ID, incoming.FromUserID)
	assert.Equal(t, models.CallTypeAudio, incoming.CallType)

	send(t, b, models.EventCallReject, models.CallPayload{FromUserID: carol.ID, ConversationID: cbID})
	var rejected models.CallPayload
	require.NoError(t, json.Unmarshal(expect(t, c, models.EventCallRejected), &rejected))
	assert.Equal(t, "rejected", rejected.Reason)
}

func TestBotConversation(t *testing.T) {
	srv := newTestServer(t, echoResponder{})
	alice := register(t, srv, "Alice", "alice@example.com")
	assistant := register(t, srv, "Assistant", "assistant@conversa.bot")
	convID := conversation(t, srv, alice, assistant)

	a := dial(t, srv, alice)
	send(t, a, models.EventJoinChat, models.JoinChatPayload{RoomID: convID})
	expect(t, a, models.EventUserJoinedRoom)

	send(t, a, models.EventSendMessage, models.SendMessagePayload{ConversationID: convID, Text: "ping", ClientID: "tmp-9"})

	var typing models.TypingPayload
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventTyping), &typing))
	assert.Equal(t, assistant.ID, typing.Typer)

	var echo models.Message
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventReceiveMessage), &echo))
	assert.Equal(t, "ping", echo.Text)
	assert.Equal(t, "tmp-9", echo.ClientID)

	var reply models.Message
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventReceiveMessage), &reply))
	assert.Equal(t, "echo: ping", reply.Text)
	assert.Equal(t, assistant.ID, reply.SenderID.Hex())
	expect(t, a, models.EventStopTyping)

	var history []models.Message
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/message/"+convID, alice.Token, nil, &history))
	require.Len(t, history, 2)
	assert.Equal(t, "ping", history[0].Text)
	assert.Equal(t, "echo: ping", history[1].Text)
}

func TestPresenceAnnouncements(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	convID := conversation(t, srv, alice, bob)

	a := dial(t, srv, alice)
	send(t, a, models.EventJoinChat, models.JoinChatPayload{RoomID: convID})
	expect(t, a, models.EventUserJoinedRoom)

	b := dial(t, srv, bob)
	var online models.PresencePayload
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventReceiverOnline), &online))
	assert.Equal(t, bob.ID, online.UserID)

	var status service.OnlineStatus
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/users/online-status/"+bob.ID, alice.Token, nil, &status))
	assert.True(t, status.IsOnline)
	assert.Nil(t, status.LastSeen, "connecting leaves lastSeen alone")

	second := dial(t, srv, bob)
	require.NoError(t, second.Close())
	assert.NotContains(t, flush(t, a), models.EventReceiverOffline, "bob still has a socket")

	before := time.Now().Add(-time.Second)
	require.NoError(t, b.Close())
	var offline models.PresencePayload
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventReceiverOffline), &offline))
	assert.Equal(t, bob.ID, offline.UserID)

	status = service.OnlineStatus{}
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/users/online-status/"+bob.ID, alice.Token, nil, &status))
	assert.False(t, status.IsOnline)
	require.NotNil(t, status.LastSeen)
	assert.True(t, status.LastSeen.After(before))
}

func TestTypingReachesOthersOnly(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	convID := conversation(t, srv, alice, bob)

	a := dial(t, srv, alice)
	b := dial(t, srv, bob)
	for _, c := range []*websocket.Conn{a, b} {
		send(t, c, models.EventJoinChat, models.JoinChatPayload{RoomID: convID})
		expect(t, c, models.EventUserJoinedRoom)
	}

	send(t, b, models.EventTyping, json.RawMessage(`{"conversationId":"`+convID+`","typer":"`+alice.ID+`","name":"Bob"}`))
	var typing map[string]string
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventTyping), &typing))
	assert.Equal(t, bob.ID, typing["typer"], "the token decides the typer")
	assert.Equal(t, "Bob", typing["name"], "extra fields are relayed")
	assert.Equal(t, convID, typing["conversationId"])

	assert.NotContains(t, flush(t, b), models.EventTyping, "the typer does not hear itself")

	send(t, b, models.EventStopTyping, models.TypingPayload{ConversationID: convID})
	expect(t, a, models.EventStopTyping)
	assert.NotContains(t, flush(t, b), models.EventStopTyping)
}

func TestDeleteForEveryoneNotifiesRoom(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	convID := conversation(t, srv, alice, bob)

	a := dial(t, srv, alice)
	b := dial(t, srv, bob)
	for _, c := range []*websocket.Conn{a, b} {
		send(t, c, models.EventJoinChat, models.JoinChatPayload{RoomID: convID})
		expect(t, c, models.EventUserJoinedRoom)
	}

	send(t, a, models.EventSendMessage, models.SendMessagePayload{ConversationID: convID, Text: "oops"})
	var msg models.Message
	require.NoError(t, json.Unmarshal(expect(t, a, models.EventReceiveMessage), &msg))
	expect(t, b, models.EventReceiveMessage)

	send(t, a, models.EventDeleteMessage, models.DeleteMessagePayload{MessageID: msg.ID.Hex(), DeleteFrom: []string{alice.ID, alice.ID}})
	assert.NotContains(t, flush(t, a), models.EventMessageDeleted, "one user named twice is still one user")

	send(t, a, models.EventDeleteMessage, models.DeleteMessagePayload{MessageID: msg.ID.Hex(), DeleteFrom: []string{alice.ID, bob.ID}})
	for _, c := range []*websocket.Conn{a, b} {
		var deleted models.DeleteMessagePayload
		require.NoError(t, json.Unmarshal(expect(t, c, models.EventMessageDeleted), &deleted))
		assert.Equal(t, msg.ID.Hex(), deleted.MessageID)
		assert.Equal(t, convID, deleted.ConversationID)
	}

	var history []models.Message
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/message/"+convID, bob.Token, nil, &history))
	assert.Empty(t, history)
}

func TestCallAnswerNeedsInvite(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	mallory := register(t, srv, "Mallory", "mallory@example.com")
	abID := conversation(t, srv, alice, bob)

	a := dial(t, srv, alice)
	b := dial(t, srv, bob)
	m := dial(t, srv, mallory)

	send(t, m, models.EventCallAccept, models.CallPayload{FromUserID: bob.ID})
	var failure models.ErrorPayload
	require.NoError(t, nextError(t, m, &failure))
	assert.Equal(t, models.EventCallAccept, failure.Event)
	assert.Equal(t, "no pending call from this user", failure.Error)

	send(t, m, models.EventCallReject, models.CallPayload{FromUserID: alice.ID})
	require.NoError(t, nextError(t, m, &failure))
	assert.Equal(t, models.EventCallReject, failure.Event)

	send(t, a, models.EventCallInitiate, models.CallPayload{ToUserID: bob.ID, ConversationID: abID})
	expect(t, b, models.EventIncomingCall)
	assert.NotContains(t, flush(t, a), models.EventCallBusy, "a forged accept does not make bob busy")

	send(t, m, models.EventCallAccept, models.CallPayload{FromUserID: alice.ID})
	require.NoError(t, nextError(t, m, &failure))
	assert.Equal(t, "no pending call from this user", failure.Error, "only the invited user can answer")

	send(t, b, models.EventCallAccept, models.CallPayload{FromUserID: alice.ID, ConversationID: abID})
	expect(t, a, models.EventCallAccepted)
	send(t, b, models.EventCallAccept, models.CallPayload{FromUserID: alice.ID, ConversationID: abID})
	require.NoError(t, nextError(t, b, &failure))
	assert.Equal(t, models.EventCallAccept, failure.Event, "an invite is answered once")
}

func TestDisconnectEndsCall(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")
	bob := register(t, srv, "Bob Smith", "bob@example.com")
	carol := register(t, srv, "Carol", "carol@example.com")
	abID := conversation(t, srv, alice, bob)
	cbID := conversation(t, srv, carol, bob)

	a := dial(t, srv, alice)
	b := dial(t, srv, bob)
	c := dial(t, srv, carol)
	send(t, c, models.EventJoinChat, models.JoinChatPayload{RoomID: cbID})
	expect(t, c, models.EventUserJoinedRoom)

	send(t, a, models.EventCallInitiate, models.CallPayload{ToUserID: bob.ID, ConversationID: abID})
	expect(t, b, models.EventIncomingCall)
	send(t, b, models.EventCallAccept, models.CallPayload{FromUserID: alice.ID, ConversationID: abID})
	expect(t, a, models.EventCallAccepted)

	send(t, c, models.EventCallInitiate, models.CallPayload{ToUserID: bob.ID, ConversationID: cbID})
	expect(t, c, models.EventCallBusy)

	require.NoError(t, b.Close())
	expect(t, c, models.EventReceiverOffline)

	b = dial(t, srv, bob)
	send(t, c, models.EventCallInitiate, models.CallPayload{ToUserID: bob.ID, ConversationID: cbID})
	var incoming models.CallPayload
	require.NoError(t, json.Unmarshal(expect(t, b, models.EventIncomingCall), &incoming))
	assert.Equal(t, carol.ID, incoming.FromUserID, "the dropped call no longer marks bob busy")
}

func TestUploadedFilesAreServedAsMedia(t *testing.T) {
	srv := newTestServer(t, bot.Disabled{})
	alice := register(t, srv, "Alice", "alice@example.com")

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="evil.html"`},
		"Content-Type":        {"audio/mpeg"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte("<html><script>alert(document.cookie)</script></html>"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/message/upload-audio", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res media.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, strings.HasSuffix(res.URL, ".mp3"), res.URL)

	file, err := srv.Client().Get(srv.URL + strings.TrimPrefix(res.URL, "http://localhost"))
	require.NoError(t, err)
	defer file.Body.Close()
	require.Equal(t, http.StatusOK, file.StatusCode)
	assert.Equal(t, "audio/mpeg", file.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", file.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "inline", file.Header.Get("Content-Disposition"))
	assert.Contains(t, file.Header.Get("Content-Security-Policy"), "sandbox")
}
