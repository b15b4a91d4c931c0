package controllers

import (
	"net/http"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/services"
	"tennismatch/utils"
)

// DeckController serves candidate decks
type DeckController struct {
	DeckService *services.DeckService
	log         *zap.Logger
}

// NewDeckController creates a new DeckController instance
func NewDeckController(deckService *services.DeckService, log *zap.Logger) *DeckController {
	return &DeckController{DeckService: deckService, log: logger.OrNop(log).Named("deck")}
}

// HandleGetDeck issues a fresh deck for the caller
func (c *DeckController) HandleGetDeck(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	deck, err := c.DeckService.Issue(r.Context(), userID)
	if err != nil {
		writeServiceError(w, c.log, "issue deck", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, deck)
}
