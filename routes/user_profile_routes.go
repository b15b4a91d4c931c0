package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tennismatch/controllers"
	"tennismatch/services"
)

// RegisterUserProfileRoutes sets up the caller's profile endpoints
func RegisterUserProfileRoutes(r *mux.Router, profiles *services.UserProfileService, log *zap.Logger) {
	controller := controllers.NewUserProfileController(profiles, log)

	r.HandleFunc("/me/profile", controller.GetUserProfile).Methods(http.MethodGet)
	r.HandleFunc("/me/profile", controller.UpdateUserProfile).Methods(http.MethodPatch)
	r.HandleFunc("/me/profile/photo-upload-url", controller.GeneratePresignedURL).Methods(http.MethodPost)
}
