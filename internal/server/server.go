package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"krishimitra/internal/assistant"
	"krishimitra/internal/auth"
	"krishimitra/internal/cache"
	"krishimitra/internal/config"
	"krishimitra/internal/gemini"
	"krishimitra/internal/store"
	"krishimitra/internal/weather"
)

// Store is the persistence the handlers need.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, username, passwordHash, city string) (*store.User, error)
	GetUser(ctx context.Context, id int64) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	UpdateUserCity(ctx context.Context, id int64, city string) error

	CreatePost(ctx context.Context, userID int64, content string) (*store.Post, error)
	ListPosts(ctx context.Context, limit int) ([]store.Post, error)

	CreateItem(ctx context.Context, ownerID int64, in store.ItemInput) (*store.Item, error)
	GetItem(ctx context.Context, id int64) (*store.Item, error)
	ListItems(ctx context.Context, onlyAvailable bool) ([]store.Item, error)
	UpdateItem(ctx context.Context, ownerID, id int64, in store.ItemInput) (*store.Item, error)
	DeleteItem(ctx context.Context, ownerID, id int64) error

	CreateSoilTest(ctx context.Context, userID int64, t store.SoilTest) (*store.SoilTest, error)
	ListSoilTests(ctx context.Context, userID int64) ([]store.SoilTest, error)
	DeleteSoilTest(ctx context.Context, userID, id int64) error
}

// Assistant abstracts the AI adapter for easier testing.
type Assistant interface {
	Chat(ctx context.Context, message string) assistant.Result
	DiagnoseLeaf(ctx context.Context, image *gemini.Image, note string) assistant.Result
	GradeCrop(ctx context.Context, image *gemini.Image, crop string) assistant.Result
}

type Weather interface {
	Fetch(ctx context.Context, city string) (*weather.Report, error)
}

type ModelSelector interface {
	Select(ctx context.Context) gemini.Selection
	Invalidate(ctx context.Context) error
}

// Deps are the collaborators the server is built from.
type Deps struct {
	Store     Store
	Assistant Assistant
	Weather   Weather
	Selector  ModelSelector
	Sessions  *auth.SessionManager
	// Revoked holds the ids of logged-out sessions until they expire. Nil
	// disables revocation.
	Revoked   cache.Cache
}

type Server struct {
	cfg config.Config
	Deps
	// sem is a simple semaphore for concurrency limiting
	sem chan struct{}
}

func New(cfg config.Config, d Deps) *Server {
	// Apply safe defaults when fields are zero to match config.LoadConfig behavior
	if cfg.RequestMaxBodyBytes == 0 {
		cfg.RequestMaxBodyBytes = 16 * 1024 * 1024
	}
	if cfg.MaxConcurrentRequests == 0 {
		cfg.MaxConcurrentRequests = 64
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = 8 * 1024 * 1024
	}
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = store.DefaultCity
	}
	return &Server{cfg: cfg, Deps: d, sem: make(chan struct{}, cfg.MaxConcurrentRequests)}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.Handle("GET /api/me", s.requireUser(s.handleMe))
	mux.Handle("POST /api/me/city", s.requireUser(s.handleUpdateCity))

	mux.HandleFunc("GET /api/weather", s.handleWeather)
	mux.HandleFunc("GET /api/market_prices", s.handleMarketPrices)

	mux.HandleFunc("GET /api/model", s.handleModel)
	mux.Handle("POST /api/model/refresh", s.requireUser(s.handleModelRefresh))
	mux.Handle("POST /api/chat", s.requireUser(s.handleChat))
	mux.Handle("POST /api/diagnose", s.requireUser(s.handleDiagnose))
	mux.Handle("POST /api/grade", s.requireUser(s.handleGrade))

	mux.HandleFunc("GET /api/posts", s.handleListPosts)
	mux.Handle("POST /api/posts", s.requireUser(s.handleCreatePost))

	mux.HandleFunc("GET /api/inventory", s.handleListItems)
	mux.Handle("POST /api/inventory", s.requireUser(s.handleCreateItem))
	mux.HandleFunc("GET /api/inventory/{id}", s.handleGetItem)
	mux.Handle("PUT /api/inventory/{id}", s.requireUser(s.handleUpdateItem))
	mux.Handle("DELETE /api/inventory/{id}", s.requireUser(s.handleDeleteItem))

	mux.Handle("GET /api/soil_tests", s.requireUser(s.handleListSoilTests))
	mux.Handle("POST /api/soil_tests", s.requireUser(s.handleCreateSoilTest))
	mux.Handle("DELETE /api/soil_tests/{id}", s.requireUser(s.handleDeleteSoilTest))

	// Order: recover (outermost) -> logging -> metrics -> concurrency limiter -> handlers
	return s.withRecover(s.withLogging(s.withMetrics(s.withConcurrencyLimit(mux))))
}

// handleHealth reports 503 when the database cannot be reached.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		logrus.Errorf("health: store ping: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "database unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "you can only change your own listings")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	default:
		logrus.WithField("path", r.URL.Path).Errorf("store error: %v", err)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// decodeJSON reads a size-limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.RequestMaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
