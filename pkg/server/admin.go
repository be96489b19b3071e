package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

// AdminHandler serves the operator endpoints:
//
//	POST   /admin/kick?user=NAME&reason=TEXT   disconnect a user
//	GET    /admin/rooms                        list rooms
//	DELETE /admin/rooms/{name}                 remove a room, pinned or not
//	GET    /admin/events?kind=&user=&limit=    read the event journal, newest first
//
// It has no authentication of its own; bind it to a private address.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/kick", s.handleKick)
	mux.HandleFunc("GET /admin/rooms", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.rooms.List())
	})
	mux.HandleFunc("DELETE /admin/rooms/{name}", s.handleRemoveRoom)
	mux.HandleFunc("GET /admin/events", s.handleEvents)
	return mux
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	user := r.FormValue("user")
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	if err := s.Kick(user, r.FormValue("reason")); err != nil {
		writeAdminError(w, err)
		return
	}
	slog.Info("admin kick", "user", user, "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveRoom(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.RemoveRoom(name); err != nil {
		writeAdminError(w, err)
		return
	}
	slog.Info("admin removed room", "room", name, "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var filters model.EventFilters
	q := r.URL.Query()
	if v := q.Get("kind"); v != "" {
		kind := model.EventKind(v)
		filters.Kind = &kind
	}
	if v := q.Get("user"); v != "" {
		filters.Username = &v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filters.Limit = &n
	}
	events, err := s.store.ListEvents(filters)
	if err != nil {
		slog.Error("list events failed", "err", err)
		http.Error(w, "list events failed", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeAdminError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch model.CodeOf(err) {
	case model.CodeNotFound, model.CodeUserNotFound:
		status = http.StatusNotFound
	case model.CodeBadCommand:
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write admin response", "err", err)
	}
}
