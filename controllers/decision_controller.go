package controllers

import (
	"net/http"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
	"tennismatch/services"
	"tennismatch/utils"
)

// DecisionController handles swipe decisions
type DecisionController struct {
	DecisionService *services.DecisionService
	log             *zap.Logger
}

// NewDecisionController creates a new DecisionController instance
func NewDecisionController(decisionService *services.DecisionService, log *zap.Logger) *DecisionController {
	return &DecisionController{DecisionService: decisionService, log: logger.OrNop(log).Named("decision")}
}

// HandleDecision records a batch of YES/NOPE decisions made on one deck
func (c *DecisionController) HandleDecision(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req models.PostDecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := c.DecisionService.Decide(r.Context(), userID, req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeServiceError(w, c.log, "decide", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, resp)
}
