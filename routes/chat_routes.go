package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tennismatch/controllers"
	"tennismatch/services"
)

// RegisterChatRoutes sets up conversation listing and message history
func RegisterChatRoutes(r *mux.Router, chatService *services.ChatService, log *zap.Logger) {
	controller := controllers.NewChatController(chatService, log)

	r.HandleFunc("/me/conversations", controller.HandleListConversations).Methods(http.MethodGet)
	r.HandleFunc("/me/conversations/{id:[0-9]+}", controller.HandleGetConversation).Methods(http.MethodGet)

	chatRouter := r.PathPrefix("/api/conversations/{id:[0-9]+}").Subrouter()
	chatRouter.HandleFunc("/messages", controller.HandleGetMessages).Methods(http.MethodGet)
	chatRouter.HandleFunc("/messages", controller.HandleSendMessage).Methods(http.MethodPost)
	chatRouter.HandleFunc("/read", controller.HandleMarkRead).Methods(http.MethodPost)
}
