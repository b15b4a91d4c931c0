package controllers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/services"
	"tennismatch/utils"
)

// AuthController issues development access tokens
type AuthController struct {
	Auth     *services.AuthService
	Profiles *services.UserProfileService
	log      *zap.Logger
}

// NewAuthController creates a new AuthController instance
func NewAuthController(auth *services.AuthService, profiles *services.UserProfileService, log *zap.Logger) *AuthController {
	return &AuthController{Auth: auth, Profiles: profiles, log: logger.OrNop(log).Named("auth")}
}

type devLoginRequest struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

type devLoginResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      int64     `json:"userId"`
}

// HandleDevLogin signs a token for any user id. It is only routed outside production.
func (c *AuthController) HandleDevLogin(w http.ResponseWriter, r *http.Request) {
	var req devLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := c.Profiles.EnsureUserProfile(r.Context(), req.UserID); err != nil {
		writeServiceError(w, c.log, "dev login", err)
		return
	}
	token, exp, err := c.Auth.IssueAccessToken(req.UserID)
	if err != nil {
		writeServiceError(w, c.log, "dev login", err)
		return
	}
	c.log.Info("dev login", zap.Int64("user_id", req.UserID))
	utils.WriteJSONResponse(w, http.StatusOK, devLoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   exp,
		UserID:      req.UserID,
	})
}

// HandleWhoAmI returns the id behind the bearer token
func (c *AuthController) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]int64{"userId": userID})
}
