package rest

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"chatd/errors"
	"chatd/services"
)

// multipartOverhead is headroom for multipart boundaries and part headers
// on top of the raw image bytes.
const multipartOverhead = 16 << 10

type joinRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// handleJoin provisions (or fetches) a user ahead of the websocket join.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed join request")
		return
	}
	if req.Username == "" {
		badRequest(w, "username is required")
		return
	}
	user, err := s.lifecycle.RegisterOrGet(req.Username, req.DisplayName)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]any{
		"id":          user.ID,
		"username":    user.Username,
		"displayName": user.EffectiveDisplayName(),
		"online":      user.Online,
	})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := s.lifecycle.OnlineUsers()
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, users)
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	exists, err := s.lifecycle.Exists(username)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, exists)
}

func (s *Server) handleGroupHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.history.GroupHistory(limitParam(r))
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, messages)
}

func (s *Server) handlePrivateHistory(w http.ResponseWriter, r *http.Request) {
	user1 := r.URL.Query().Get("user1")
	user2 := r.URL.Query().Get("user2")
	if user1 == "" || user2 == "" {
		badRequest(w, "user1 and user2 are required")
		return
	}
	messages, err := s.history.PrivateHistory(user1, user2, limitParam(r))
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, messages)
}

type markReadRequest struct {
	ReaderUsername string `json:"readerUsername"`
	OtherUsername  string `json:"otherUsername"`
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed mark-read request")
		return
	}
	if req.ReaderUsername == "" || req.OtherUsername == "" {
		badRequest(w, "readerUsername and otherUsername are required")
		return
	}
	count, err := s.history.MarkConversationRead(req.ReaderUsername, req.OtherUsername)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]int{"marked": count})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		badRequest(w, "username is required")
		return
	}
	count, err := s.history.UnreadCount(username)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]int{"unread": count})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		badRequest(w, "q is required")
		return
	}
	limit := limitParam(r)
	if limit <= 0 {
		limit = 20
	}
	if limit > services.MaxHistoryLimit {
		limit = services.MaxHistoryLimit
	}
	hits, total, err := s.index.Search(r.Context(), query, limit)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]any{"total": total, "hits": hits})
}

// handleImageUpload accepts a multipart upload, validates and stores the
// image, and returns the metadata the client then attaches to an IMAGE
// message frame.
func (s *Server) handleImageUpload(w http.ResponseWriter, r *http.Request) {
	// Cut the body off at the image cap (plus multipart framing) instead of
	// buffering an arbitrarily large upload; Save still enforces the exact
	// limit on the decoded bytes.
	r.Body = http.MaxBytesReader(w, r.Body, s.images.MaxBytes()+multipartOverhead)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			fail(w, fmt.Errorf("%w: upload exceeds %d bytes", errors.ErrPayloadTooLarge, s.images.MaxBytes()))
			return
		}
		badRequest(w, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "unreadable upload")
		return
	}
	meta, err := s.images.Save(data)
	if err != nil {
		fail(w, err)
		return
	}
	ok(w, map[string]any{
		"url":         meta.URL,
		"contentType": meta.ContentType,
		"sizeBytes":   meta.SizeBytes,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.stats.Snapshot()
	ok(w, map[string]any{
		"status":      "UP",
		"onlineUsers": s.lifecycle.OnlineCount(),
		"metrics":     snapshot,
	})
}
