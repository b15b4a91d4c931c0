package controllers

import (
	"net/http"

	"go.uber.org/zap"

	"tennismatch/logger"
	"tennismatch/models"
	"tennismatch/services"
	"tennismatch/utils"
)

// UserProfileController handles the caller's own profile
type UserProfileController struct {
	UserProfileService *services.UserProfileService
	log                *zap.Logger
}

// NewUserProfileController creates a new UserProfileController instance
func NewUserProfileController(userProfileService *services.UserProfileService, log *zap.Logger) *UserProfileController {
	return &UserProfileController{UserProfileService: userProfileService, log: logger.OrNop(log).Named("profile")}
}

// GetUserProfile returns the caller's profile
func (c *UserProfileController) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, err := c.UserProfileService.GetUserProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, c.log, "get profile", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, p)
}

// UpdateUserProfile applies a partial update
func (c *UserProfileController) UpdateUserProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var u models.ProfileUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	p, err := c.UserProfileService.UpdateUserProfile(r.Context(), userID, u)
	if err != nil {
		writeServiceError(w, c.log, "update profile", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, p)
}

type photoUploadRequest struct {
	FileName string `json:"fileName" validate:"required,max=128"`
	FileType string `json:"fileType" validate:"required,startswith=image/"`
}

// GeneratePresignedURL returns an upload URL and the key to store afterwards
func (c *UserProfileController) GeneratePresignedURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req photoUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	url, key, err := c.UserProfileService.PhotoUploadURL(r.Context(), userID, req.FileName, req.FileType)
	if err != nil {
		writeServiceError(w, c.log, "presign upload", err)
		return
	}
	utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"url": url, "fileName": key})
}
