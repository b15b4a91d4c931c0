// Package routes wires the dev backend HTTP surface.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"tennismatch/controllers"
	"tennismatch/logger"
	"tennismatch/services"
)

// Deps are the services the router exposes
type Deps struct {
	Auth      *services.AuthService
	Deck      *services.DeckService
	Decisions *services.DecisionService
	Chat      *services.ChatService
	Profiles  *services.UserProfileService
	// Socket serves GET /ws; it authenticates on its own
	Socket  http.Handler
	Metrics *Metrics
	Logger  *zap.Logger

	AllowedOrigins []string
	// DevLogin exposes POST /auth/dev-login
	DevLogin bool
}

// NewRouter builds the full handler: routes, auth, metrics and CORS
func NewRouter(d Deps) http.Handler {
	log := logger.OrNop(d.Logger)
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(log.Named("http")))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/", controllers.WelcomeHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", controllers.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/privacy-policy", PrivacyPolicyHandler).Methods(http.MethodGet)
	if d.Socket != nil {
		r.Handle("/ws", d.Socket).Methods(http.MethodGet)
	}

	authCtl := controllers.NewAuthController(d.Auth, d.Profiles, log)
	if d.DevLogin {
		r.HandleFunc("/auth/dev-login", authCtl.HandleDevLogin).Methods(http.MethodPost)
	}

	authed := r.NewRoute().Subrouter()
	authed.Use(AuthMiddleware(d.Auth))
	authed.HandleFunc("/api/whoami", authCtl.HandleWhoAmI).Methods(http.MethodGet)

	RegisterDeckRoutes(authed, d.Deck, d.Decisions, log)
	RegisterChatRoutes(authed, d.Chat, log)
	RegisterUserProfileRoutes(authed, d.Profiles, log)

	return cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(r)
}
