package controllers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
	"tennismatch/services"
	"tennismatch/utils"
)

// ChatController serves conversations and their messages
type ChatController struct {
	ChatService *services.ChatService
	log         *zap.Logger
}

// NewChatController initializes the chat controller
func NewChatController(service *services.ChatService, log *zap.Logger) *ChatController {
	return &ChatController{ChatService: service, log: logger.OrNop(log).Named("chat")}
}

// HandleGetMessages returns one page of history. Query: before_id, limit.
func (c *ChatController) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	convID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	q := r.URL.Query()
	var before *int64
	if s := q.Get("before_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			utils.WriteError(w, http.StatusBadRequest, "before_id must be an integer")
			return
		}
		before = &id
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = services.DefaultHistoryLimit
	}

	page, err := c.ChatService.History(r.Context(), userID, convID, before, limit)
	if err != nil {
		writeServiceError(w, c.log, "history", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, page)
}

// HandleSendMessage stores a message sent over REST
func (c *ChatController) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	convID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := c.ChatService.Send(r.Context(), userID, convID, req)
	if err != nil {
		writeServiceError(w, c.log, "send", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusCreated, msg)
}

// HandleMarkRead marks messages up to lastSeenId as read
func (c *ChatController) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	convID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.ReadPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := c.ChatService.MarkRead(r.Context(), userID, convID, req.LastSeenID); err != nil {
		writeServiceError(w, c.log, "mark read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListConversations lists the caller's conversations with unread counts
func (c *ChatController) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := c.ChatService.ListForUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, c.log, "list conversations", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, list)
}

// HandleGetConversation describes one conversation
func (c *ChatController) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	convID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	details, err := c.ChatService.Details(r.Context(), userID, convID)
	if err != nil {
		writeServiceError(w, c.log, "conversation details", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, details)
}
