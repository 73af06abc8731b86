package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/feedpipe/backend/ingest"
	log "gopkg.in/inconshreveable/log15.v2"
)

type HTTPConfig struct {
	ListenAddress string
	ListenPort    string
}

func (c HTTPConfig) Addr() string {
	return c.ListenAddress + ":" + c.ListenPort
}

type AppServer struct {
	feeds  *FeedService
	logger log.Logger
}

func NewAppServer(feeds *FeedService, logger log.Logger) http.Handler {
	s := &AppServer{feeds: feeds, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequest)

	r.Get("/health", s.health)
	r.Post("/feeds", s.createFeed)
	r.Get("/feeds/{id}", s.getFeed)
	r.Put("/feeds/{id}/force-update", s.forceUpdate)

	return r
}

func (s *AppServer) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		startTime := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		s.logger.Debug("http request", "method", req.Method, "path", req.URL.Path, "status", ww.Status(), "duration", time.Since(startTime))
	})
}

type feedJSON struct {
	ID              int64      `json:"id"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	LastBuiltAt     *time.Time `json:"last_built_at"`
	IsUpdateEnabled bool       `json:"is_update_enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func newFeedJSON(f *ingest.Feed) feedJSON {
	fj := feedJSON{
		ID:              f.ID,
		URL:             f.URL,
		Title:           f.Title,
		Description:     f.Description,
		IsUpdateEnabled: f.IsUpdateEnabled,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
	if !f.LastBuiltAt.IsZero() {
		fj.LastBuiltAt = &f.LastBuiltAt
	}
	return fj
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *AppServer) health(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *AppServer) createFeed(w http.ResponseWriter, req *http.Request) {
	var subscription struct {
		URL string `json:"url"`
	}

	if err := json.NewDecoder(req.Body).Decode(&subscription); err != nil {
		w.WriteHeader(422)
		fmt.Fprintf(w, "Error decoding request: %v", err)
		return
	}

	feed, created, err := s.feeds.Subscribe(req.Context(), subscription.URL)
	if err != nil {
		if errors.Is(err, ErrInvalidURL) {
			w.WriteHeader(422)
			fmt.Fprintln(w, err)
			return
		}
		s.logger.Error("subscribe failed", "url", subscription.URL, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, newFeedJSON(feed))
}

// feedID parses the id URL parameter. A malformed id is reported as not found.
func (s *AppServer) feedID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		http.NotFound(w, req)
		return 0, false
	}
	return id, true
}

func (s *AppServer) getFeed(w http.ResponseWriter, req *http.Request) {
	id, ok := s.feedID(w, req)
	if !ok {
		return
	}

	feed, err := s.feeds.Feed(req.Context(), id)
	if err != nil {
		s.writeFeedError(w, req, id, err)
		return
	}

	writeJSON(w, http.StatusOK, newFeedJSON(feed))
}

func (s *AppServer) forceUpdate(w http.ResponseWriter, req *http.Request) {
	id, ok := s.feedID(w, req)
	if !ok {
		return
	}

	feed, err := s.feeds.ForceUpdate(req.Context(), id)
	if err != nil {
		s.writeFeedError(w, req, id, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newFeedJSON(feed))
}

func (s *AppServer) writeFeedError(w http.ResponseWriter, req *http.Request, feedID int64, err error) {
	if errors.Is(err, ingest.ErrNotFound) {
		http.NotFound(w, req)
		return
	}

	s.logger.Error("feed request failed", "feed_id", feedID, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
