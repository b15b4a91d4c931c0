package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tennismatch/services"
	"tennismatch/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// HealthCheckHandler provides a basic health check
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// WelcomeHandler provides a welcome message
func WelcomeHandler(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "Welcome to the tennismatch API."})
}

// decodeJSON reads the body into v and validates it. It writes the 400 itself
// and reports false when the request is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	if err := validate.Struct(v); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// currentUser returns the id the auth middleware put in the context
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := utils.UserIDFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "Unauthenticated")
	}
	return id, ok
}

// pathID parses a numeric route variable
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		utils.WriteError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// statusFor maps service errors to HTTP statuses. 401 and 403 end the client
// session, so a conversation the user is not part of is reported as 404.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidAccessToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrDeckTokenExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrInvalidDeckToken),
		errors.Is(err, services.ErrForeignDeckToken),
		errors.Is(err, services.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnknownCandidate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrPhotosUnavailable):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, log *zap.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err))
		utils.WriteError(w, status, "Internal server error")
		return
	}
	log.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	utils.WriteError(w, status, err.Error())
}
