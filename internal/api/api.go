package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/susu3304/paycollect/internal/config"
	"github.com/susu3304/paycollect/internal/db"
	"github.com/susu3304/paycollect/internal/roster"
	"golang.org/x/oauth2"
)

// RosterReader serves the current roster snapshot.
type RosterReader interface {
	Get(ctx context.Context) (*roster.Snapshot, error)
}

// AssignmentReader lists persisted assignments.
type AssignmentReader interface {
	ListAssignments(ctx context.Context) ([]db.Assignment, error)
	GetAssignment(ctx context.Context, participantKey string) (*db.Assignment, error)
}

// SyncController exposes the roster synchronizer to operators.
type SyncController interface {
	Status() roster.Status
	SyncOnce(ctx context.Context) (bool, error)
}

type API struct {
	router      *mux.Router
	roster      RosterReader
	assignments AssignmentReader
	sync        SyncController
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	server      *http.Server
}

func New(cfg *config.Config, rosters RosterReader, assignments AssignmentReader, sync SyncController) *API {
	api := &API{
		router:      mux.NewRouter(),
		roster:      rosters,
		assignments: assignments,
		sync:        sync,
		config:      cfg,
		jwtSecret:   []byte(cfg.JWTSecret),
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
	}

	api.setupRoutes()
	api.server = &http.Server{
		Addr:              cfg.WebBind,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return api
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Operator endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/roster", a.handleRoster).Methods("GET")
	protected.HandleFunc("/assignments", a.handleListAssignments).Methods("GET")
	protected.HandleFunc("/assignments/{key}", a.handleGetAssignment).Methods("GET")
	protected.HandleFunc("/sync", a.handleSyncStatus).Methods("GET")
	protected.HandleFunc("/sync", a.handleSyncNow).Methods("POST")
}

func (a *API) Handler() http.Handler {
	// Bearer tokens only, so credentials stay off with a wildcard origin.
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (a *API) Start() error {
	log.Printf("API server listening on http://%s", a.config.WebBind)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
