// Package rest exposes the request/response surface of the chat node:
// user provisioning, history retrieval, read receipts, image upload,
// message search, and the status endpoint.
package rest

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatd/images"
	"chatd/observability"
	"chatd/search"
	"chatd/services"
)

type Server struct {
	log       *slog.Logger
	lifecycle services.ILifecycleService
	history   services.IHistoryService
	images    *images.Service
	index     *search.Index
	stats     *observability.Stats
}

func NewServer(log *slog.Logger, lifecycle services.ILifecycleService,
	history services.IHistoryService, imageService *images.Service,
	index *search.Index, stats *observability.Stats) *Server {
	return &Server{
		log:       log,
		lifecycle: lifecycle,
		history:   history,
		images:    imageService,
		index:     index,
		stats:     stats,
	}
}

// Routes mounts every REST endpoint plus the static image file server on
// the given router.
func (s *Server) Routes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/users/online", s.handleOnlineUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/exists/{username}", s.handleExists).Methods(http.MethodGet)
	api.HandleFunc("/messages/group", s.handleGroupHistory).Methods(http.MethodGet)
	api.HandleFunc("/messages/private", s.handlePrivateHistory).Methods(http.MethodGet)
	api.HandleFunc("/messages/mark-read", s.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/messages/unread-count", s.handleUnreadCount).Methods(http.MethodGet)
	api.HandleFunc("/messages/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/images/upload", s.handleImageUpload).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.PathPrefix(images.URLPrefix).Handler(
		http.StripPrefix(images.URLPrefix, http.FileServer(http.Dir(s.images.Dir()))))
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
