package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tennismatch/controllers"
	"tennismatch/services"
)

// RegisterDeckRoutes sets up the swipe endpoints under /me
func RegisterDeckRoutes(r *mux.Router, deck *services.DeckService, decisions *services.DecisionService, log *zap.Logger) {
	deckCtl := controllers.NewDeckController(deck, log)
	decisionCtl := controllers.NewDecisionController(decisions, log)

	me := r.PathPrefix("/me").Subrouter()
	me.HandleFunc("/deck", deckCtl.HandleGetDeck).Methods(http.MethodGet)
	me.HandleFunc("/decision", decisionCtl.HandleDecision).Methods(http.MethodPost)
}
