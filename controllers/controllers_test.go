package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tennismatch/models"
	"tennismatch/services"
	"tennismatch/utils"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrInvalidAccessToken, http.StatusUnauthorized},
		{services.ErrDeckTokenExpired, http.StatusGone},
		{services.ErrInvalidDeckToken, http.StatusBadRequest},
		{services.ErrForeignDeckToken, http.StatusBadRequest},
		{services.ErrEmptyMessage, http.StatusBadRequest},
		{services.ErrUnknownCandidate, http.StatusUnprocessableEntity},
		{services.ErrConversationNotFound, http.StatusNotFound},
		{services.ErrNotParticipant, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", services.ErrPlayerNotFound), http.StatusNotFound},
		{services.ErrPhotosUnavailable, http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func authed(r *http.Request, userID int64) *http.Request {
	return r.WithContext(utils.WithUserID(r.Context(), userID))
}

func newChat(t *testing.T) (*ChatController, int64) {
	t.Helper()
	ctx := context.Background()
	store := services.NewMemoryStore()
	_, conv, err := store.CreateMatch(ctx, 1, 2, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	svc := services.NewChatService(store, services.StaticPhotoResolver{}, nil)
	return NewChatController(svc, nil), conv.ConversationID
}

func TestChatControllerSendAndHistory(t *testing.T) {
	ctl, conv := newChat(t)
	vars := map[string]string{"id": fmt.Sprint(conv)}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"body":"hi","clientId":"c1"}`))
	rec := httptest.NewRecorder()
	ctl.HandleSendMessage(rec, mux.SetURLVars(authed(req, 1), vars))
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.MessageDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "hi", msg.Body)

	rec = httptest.NewRecorder()
	ctl.HandleGetMessages(rec, mux.SetURLVars(authed(httptest.NewRequest(http.MethodGet, "/?limit=10", nil), 2), vars))
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	rec = httptest.NewRecorder()
	ctl.HandleGetMessages(rec, mux.SetURLVars(authed(httptest.NewRequest(http.MethodGet, "/", nil), 3), vars))
	assert.Equal(t, http.StatusNotFound, rec.Code, "outsiders see 404, never 403")

	rec = httptest.NewRecorder()
	ctl.HandleGetMessages(rec, mux.SetURLVars(authed(httptest.NewRequest(http.MethodGet, "/?before_id=x", nil), 1), vars))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatControllerValidation(t *testing.T) {
	ctl, conv := newChat(t)
	vars := map[string]string{"id": fmt.Sprint(conv)}

	for _, body := range []string{`{"body":""}`, `not json`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		ctl.HandleSendMessage(rec, mux.SetURLVars(authed(req, 1), vars))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"body":"x"}`))
	ctl.HandleSendMessage(rec, mux.SetURLVars(req, vars))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	ctl.HandleMarkRead(rec, mux.SetURLVars(authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)), 1), map[string]string{"id": "0"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionControllerExpiredDeck(t *testing.T) {
	ctx := context.Background()
	store := services.NewMemoryStore()
	require.NoError(t, store.PutPlayer(ctx, models.PlayerProfile{UserID: 2, Name: "Bo"}))
	sessions := services.NewMemoryDeckSessionStore()
	auth := services.NewAuthService("s", "tm", time.Hour, time.Nanosecond)
	photos := services.StaticPhotoResolver{}
	deck, err := services.NewDeckService(store, sessions, auth, photos, 0, nil).Issue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, deck.Cards, 1)
	time.Sleep(1100 * time.Millisecond)

	ctl := NewDecisionController(services.NewDecisionService(store, sessions, services.NewMemoryIdempotencyStore(), auth, photos, nil), nil)
	body := fmt.Sprintf(`{"deck_token":%q,"items":[{"candidate_id":%q,"decision":"YES"}]}`, deck.DeckToken, deck.Cards[0].ID)
	rec := httptest.NewRecorder()
	ctl.HandleDecision(rec, authed(httptest.NewRequest(http.MethodPost, "/me/decision", strings.NewReader(body)), 1))
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = httptest.NewRecorder()
	ctl.HandleDecision(rec, authed(httptest.NewRequest(http.MethodPost, "/me/decision", strings.NewReader(`{"deck_token":"t","items":[{"candidate_id":"c","decision":"MAYBE"}]}`)), 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDevLoginAndWhoAmI(t *testing.T) {
	store := services.NewMemoryStore()
	auth := services.NewAuthService("s", "tm", time.Hour, time.Minute)
	ctl := NewAuthController(auth, services.NewUserProfileService(store, nil, nil), nil)

	rec := httptest.NewRecorder()
	ctl.HandleDevLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/dev-login", strings.NewReader(`{"userId":12}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp devLoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	id, err := auth.ParseAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	p, err := store.GetPlayer(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, "Player 12", p.Name)

	rec = httptest.NewRecorder()
	ctl.HandleDevLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/dev-login", strings.NewReader(`{"userId":0}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	ctl.HandleWhoAmI(rec, authed(httptest.NewRequest(http.MethodGet, "/api/whoami", nil), 12))
	assert.JSONEq(t, `{"userId":12}`, rec.Body.String())
}

func TestPhotoUploadWithoutBucket(t *testing.T) {
	ctl := NewUserProfileController(services.NewUserProfileService(services.NewMemoryStore(), nil, nil), nil)

	rec := httptest.NewRecorder()
	ctl.GeneratePresignedURL(rec, authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fileName":"a.jpg","fileType":"image/jpeg"}`)), 1))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = httptest.NewRecorder()
	ctl.GeneratePresignedURL(rec, authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fileName":"a.txt","fileType":"text/plain"}`)), 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
