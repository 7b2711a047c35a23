// ABOUTME: HTTP handlers for the user API under /api/v1/users
// ABOUTME: Every route is scope protected; the caller's subject is the audit actor

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/authn"
	"github.com/2389/warden/internal/store"
)

type userResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"displayName"`
	OrganisationID string    `json:"organisationId"`
	Privileges     []string  `json:"privileges"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		DisplayName:    u.DisplayName,
		OrganisationID: u.OrganisationID,
		Privileges:     u.Privileges,
		CreatedAt:      u.CreatedAt,
	}
}

func actorOf(r *http.Request) string {
	if a := auth.FromContext(r.Context()); a != nil {
		return a.Subject
	}
	return ""
}

// handleGetUser handles GET /api/v1/users/{id}.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.engine.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// handleCreateUser handles POST /api/v1/users.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	body, err := readJSONBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req authn.NewUser
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, apierr.Wrap(apierr.KindBadRequest, "invalid JSON body", err))
		return
	}

	u, err := s.engine.CreateUser(r.Context(), actorOf(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// handleDeleteUser handles DELETE /api/v1/users/{id} and returns the deleted user.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	u, err := s.engine.GetUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.DeleteUser(r.Context(), actorOf(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
