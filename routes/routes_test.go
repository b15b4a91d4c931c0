package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tennismatch/chat"
	"tennismatch/client"
	"tennismatch/deck"
	"tennismatch/models"
	"tennismatch/services"
	"tennismatch/socket"
)

type backend struct {
	srv   *httptest.Server
	store *services.MemoryStore
}

func newBackend(t *testing.T, players ...models.PlayerProfile) *backend {
	t.Helper()
	ctx := context.Background()
	store := services.NewMemoryStore()
	for _, p := range players {
		require.NoError(t, store.PutPlayer(ctx, p))
	}
	sessions := services.NewMemoryDeckSessionStore()
	auth := services.NewAuthService("test-secret", "tennismatch-test", time.Hour, 15*time.Minute)
	photos := services.StaticPhotoResolver{BaseURL: "https://cdn.test", Placeholder: "/placeholder.png"}
	chatService := services.NewChatService(store, photos, nil)
	hub := socket.NewHub(chatService, auth, socket.Options{SendRate: 100, SendBurst: 100})
	chatService.SetBroadcaster(hub)

	handler := NewRouter(Deps{
		Auth:           auth,
		Deck:           services.NewDeckService(store, sessions, auth, photos, 0, nil),
		Decisions:      services.NewDecisionService(store, sessions, services.NewMemoryIdempotencyStore(), auth, photos, nil),
		Chat:           chatService,
		Profiles:       services.NewUserProfileService(store, nil, nil),
		Socket:         hub,
		Metrics:        NewMetrics(hub.Connections),
		AllowedOrigins: []string{"*"},
		DevLogin:       true,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &backend{srv: srv, store: store}
}

func (b *backend) login(t *testing.T, userID int64) string {
	t.Helper()
	body, _ := json.Marshal(map[string]int64{"userId": userID})
	resp, err := http.Post(b.srv.URL+"/auth/dev-login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.AccessToken
}

func (b *backend) client(token string) *client.Client {
	return client.New(client.Options{BaseURL: b.srv.URL, AccessToken: token})
}

func (b *backend) transport(t *testing.T, token string) *chat.Transport {
	t.Helper()
	tr := chat.NewTransport(chat.TransportOptions{
		URL:            "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws",
		AccessToken:    token,
		ReconnectDelay: 50 * time.Millisecond,
	})
	tr.Start()
	t.Cleanup(func() { _ = tr.Close() })
	require.Eventually(t, tr.IsConnected, 2*time.Second, 10*time.Millisecond)
	return tr
}

var (
	ana = models.PlayerProfile{UserID: 1, Name: "Ana", Age: 30, SkillLevel: "3.5", PhotoKey: "ana.jpg"}
	bo  = models.PlayerProfile{UserID: 2, Name: "Bo", Age: 28, SkillLevel: "4.0", PhotoKey: "bo.jpg"}
	cy  = models.PlayerProfile{UserID: 3, Name: "Cy", Age: 41, SkillLevel: "3.0"}
)

func TestPublicEndpoints(t *testing.T) {
	b := newBackend(t)

	for path, want := range map[string]int{
		"/":               http.StatusOK,
		"/health":         http.StatusOK,
		"/privacy-policy": http.StatusOK,
		"/me/deck":        http.StatusUnauthorized,
		"/api/whoami":     http.StatusUnauthorized,
	} {
		resp, err := http.Get(b.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}

	resp, err := http.Get(b.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), MetricRequestsTotal)
	assert.Contains(t, string(data), `route="/health"`)
	assert.Contains(t, string(data), MetricSocketConnections)
}

func TestCORSPreflight(t *testing.T) {
	b := newBackend(t)
	req, err := http.NewRequest(http.MethodOptions, b.srv.URL+"/me/decision", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(resp.Header.Get("Access-Control-Allow-Headers")), "idempotency-key")
}

func TestWhoAmIAndProfile(t *testing.T) {
	b := newBackend(t, ana)
	token := b.login(t, 1)
	api := b.client(token)

	me, err := api.FetchMeID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), me)

	req, err := http.NewRequest(http.MethodPatch, b.srv.URL+"/me/profile", strings.NewReader(`{"bio":"lefty, loves clay"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p models.PlayerProfile
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, "lefty, loves clay", p.Bio)

	_, err = b.client("not-a-token").FetchMeID(context.Background())
	assert.True(t, client.IsUnauthenticated(err))
}

// A swipe session end to end: the deck manager fetches real decks, submits
// real decisions and surfaces the mutual match the backend detects.
func TestDeckManagerFindsMatch(t *testing.T) {
	b := newBackend(t, ana, bo, cy)
	require.NoError(t, b.store.PutDecision(context.Background(), models.DecisionRecord{ActorID: 2, TargetID: 1, Decision: "YES"}))
	api := b.client(b.login(t, 1))

	m := deck.NewManager(api, api, deck.Options{LeaveDelay: 5 * time.Millisecond})
	defer m.Close()
	require.NoError(t, m.Init(context.Background()))
	require.Len(t, m.Hand(), 2)

	require.Eventually(t, func() bool {
		if top := m.Top(); top != nil {
			if top.TargetID == bo.UserID {
				m.Like()
			} else {
				m.Nope()
			}
		}
		return m.Match() != nil
	}, 3*time.Second, 10*time.Millisecond)

	match := m.Match()
	require.NotNil(t, match.Name)
	assert.Equal(t, "Bo", *match.Name)

	convs, err := b.client(b.login(t, 2)).FetchMyConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, match.ConversationID, convs[0].ID)
	assert.Equal(t, "Ana", convs[0].Partner.Name)

	assert.Eventually(t, func() bool {
		decided, err := b.store.DecidedTargets(context.Background(), 1)
		return err == nil && len(decided) == 2
	}, 2*time.Second, 10*time.Millisecond, "both swipes were recorded")
}

func TestDecisionErrorsOverHTTP(t *testing.T) {
	b := newBackend(t, ana, bo)
	anaAPI := b.client(b.login(t, 1))
	boAPI := b.client(b.login(t, 2))
	ctx := context.Background()

	d, err := anaAPI.FetchDeck(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, d.Cards)

	_, err = boAPI.SubmitDecision(ctx, models.Decision{DeckToken: d.DeckToken, CardID: d.Cards[0].ID, Decision: models.DecisionYes})
	var status *client.StatusError
	require.ErrorAs(t, err, &status, "a foreign deck token is a client error, never a logout")
	assert.Equal(t, http.StatusBadRequest, status.Status)

	_, err = anaAPI.SubmitDecision(ctx, models.Decision{DeckToken: d.DeckToken, CardID: "never-issued", Decision: models.DecisionYes})
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusUnprocessableEntity, status.Status)
}

// Two signed-in players chat over the realtime channel through the hub
func TestRealtimeConversation(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, ana, bo)
	_, conv, err := b.store.CreateMatch(ctx, 1, 2, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	convID := conv.ConversationID

	anaToken, boToken := b.login(t, 1), b.login(t, 2)
	anaAPI, boAPI := b.client(anaToken), b.client(boToken)
	anaRT, boRT := b.transport(t, anaToken), b.transport(t, boToken)

	var anaSawTyping, boSawTyping atomic.Bool
	anaConv := chat.NewConversation(anaAPI, anaRT, chat.ConversationOptions{
		ConversationID: convID, MeID: 1, Meta: anaAPI,
		OnTyping: func(models.TypingData) { anaSawTyping.Store(true) },
	})
	boConv := chat.NewConversation(boAPI, boRT, chat.ConversationOptions{
		ConversationID: convID, MeID: 2, Meta: boAPI,
		OnTyping: func(models.TypingData) { boSawTyping.Store(true) },
	})
	defer anaConv.Close()
	defer boConv.Close()
	require.NoError(t, anaConv.Open(ctx))
	require.NoError(t, boConv.Open(ctx))
	assert.Equal(t, "Bo", anaConv.Meta().Name)

	// typing notices prove both subscriptions are live on the server
	require.Eventually(t, func() bool {
		anaRT.Typing(convID, true)
		boRT.Typing(convID, true)
		return anaSawTyping.Load() && boSawTyping.Load()
	}, 2*time.Second, 20*time.Millisecond)

	_, err = anaConv.Send(ctx, "rally at 6?")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w := boConv.View()
		return len(w.Messages) == 1 && w.Messages[0].Text == "rally at 6?" && w.Messages[0].From == models.FromThem
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		w := anaConv.View()
		return len(w.Messages) == 1 && !w.Messages[0].Pending() && w.Messages[0].From == models.FromMe
	}, 2*time.Second, 10*time.Millisecond, "the echo is confirmed in place")

	// Bo had the conversation open, so the message was marked read
	require.Eventually(t, func() bool {
		list, err := boAPI.FetchMyConversations(ctx)
		return err == nil && len(list) == 1 && list[0].UnreadCount == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRESTFallbackSend(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, ana, bo)
	_, conv, err := b.store.CreateMatch(ctx, 1, 2, "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	api := b.client(b.login(t, 1))
	offline := chat.NewTransport(chat.TransportOptions{URL: "ws://127.0.0.1:1/ws"})
	defer offline.Close()

	c := chat.NewConversation(api, offline, chat.ConversationOptions{ConversationID: conv.ConversationID, MeID: 1, PageSize: 2})
	defer c.Close()
	require.NoError(t, c.Open(ctx))

	for _, text := range []string{"one", "two", "three"} {
		_, err := c.Send(ctx, text)
		require.NoError(t, err)
	}
	w := c.View()
	require.Len(t, w.Messages, 3)
	for _, m := range w.Messages {
		assert.False(t, m.Pending())
	}

	unread, err := b.client(b.login(t, 2)).FetchMyConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, unread[0].UnreadCount)

	fresh := chat.NewConversation(api, offline, chat.ConversationOptions{ConversationID: conv.ConversationID, MeID: 1, PageSize: 2})
	defer fresh.Close()
	require.NoError(t, fresh.Open(ctx))
	require.Len(t, fresh.View().Messages, 2)
	assert.True(t, fresh.View().HasMore)
	require.NoError(t, fresh.LoadOlder(ctx))
	w = fresh.View()
	require.Len(t, w.Messages, 3)
	assert.Equal(t, "one", w.Messages[0].Text)
}
