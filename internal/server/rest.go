package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/chat"
)

// requireIdentity authenticates the bearer credential and stores the identity
// in the request context.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.authn.Authenticate(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.engine.Rooms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": nonNil(rooms)})
}

type createRoomRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxMessageSize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid request body", Code: codeValidation, Details: err.Error()})
		return
	}

	identity, _ := auth.IdentityFrom(r.Context())
	room, err := s.engine.CreateRoom(r.Context(), identity, req.Name, req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"room": room})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.engine.Room(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	page := pageFromQuery(r)
	messages, err := s.engine.RoomHistory(r.Context(), identity.ID, chi.URLParam(r, "roomID"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": nonNil(messages), "page": page.Number, "limit": page.Size})
}

func (s *Server) handlePrivateMessages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())
	page := pageFromQuery(r)
	messages, err := s.engine.PrivateHistory(r.Context(), identity.ID, chi.URLParam(r, "userID"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": nonNil(messages), "page": page.Number, "limit": page.Size})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.engine.OnlineUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": nonNil(users)})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.User(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// pageFromQuery reads page and limit; invalid values fall back to defaults.
func pageFromQuery(r *http.Request) chat.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("limit"))
	return chat.Page{Number: number, Size: size}.Normalize()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("error writing JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, status, message := mapError(err)
	writeJSON(w, status, errorPayload{Error: message, Code: code})
}
