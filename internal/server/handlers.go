// ABOUTME: HTTP handlers for the attestation, assertion and token endpoints
// ABOUTME: Decode requests, call the engine and write JSON or problem documents

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/2389/warden/internal/apierr"
	"github.com/2389/warden/internal/auth"
	"github.com/2389/warden/internal/authn"
	"github.com/2389/warden/internal/ratelimit"
)

const maxBodyBytes = 64 << 10

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}

	mux.HandleFunc("PUT /api/v1/auth/attestation", s.handleBeginRegistration)
	mux.HandleFunc("POST /api/v1/auth/attestation", s.handleCompleteRegistration)
	mux.HandleFunc("GET /api/v1/auth/assertion", s.handleLookupLogin)
	mux.HandleFunc("PUT /api/v1/auth/assertion", s.handleBeginLogin)
	mux.HandleFunc("POST /api/v1/auth/assertion", s.handleCompleteLogin)
	mux.HandleFunc("POST /api/v1/auth/token", s.handleToken)

	mux.Handle("GET /api/v1/users/{id}", s.protected(s.handleGetUser, "user:read", "user:admin"))
	mux.Handle("POST /api/v1/users", s.protected(s.handleCreateUser, "user:write", "user:admin"))
	mux.Handle("DELETE /api/v1/users/{id}", s.protected(s.handleDeleteUser, "user:delete", "user:admin"))
}

// protected requires an access token holding any of scopes.
func (s *Server) protected(h http.HandlerFunc, scopes ...string) http.Handler {
	return auth.HTTPAuthMiddleware(s.engine)(auth.RequireScope(scopes...)(h))
}

func clientOf(r *http.Request) authn.Client {
	return authn.Client{IP: ratelimit.ClientIP(r), UserAgent: r.UserAgent()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail logs causes hidden from the caller and writes the problem document.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apierr.KindOf(err) == apierr.KindInternal {
		s.logger.Error("request failed", "path", r.URL.Path, "trace_id", TraceID(r.Context()), "error", err)
	}
	apierr.WriteProblem(w, r, err)
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// readJSONBody reads a bounded JSON body.
func readJSONBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if mediaType(r) != "application/json" {
		return nil, apierr.New(apierr.KindUnsupportedMediaType, "Content-Type must be application/json")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBadRequest, "Request body too large or unreadable", err)
	}
	return body, nil
}

// unwrapEnvelope returns body[key] when body is an object carrying key,
// otherwise body itself.
func unwrapEnvelope(body []byte, key string) []byte {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body
	}
	if inner, ok := envelope[key]; ok && len(inner) > 0 {
		return inner
	}
	return body
}

type registrationResponse struct {
	CredentialID string                                     `json:"credentialId"`
	PublicKey    protocol.PublicKeyCredentialCreationOptions `json:"publicKey"`
}

type registeredResponse struct {
	CredentialID string `json:"credentialId"`
	DeviceName   string `json:"deviceName"`
	Verified     bool   `json:"verified"`
}

// handleBeginRegistration handles PUT /api/v1/auth/attestation?email=.
func (s *Server) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := q.Get("email")
	if email == "" {
		s.fail(w, r, apierr.BadRequest("email is required"))
		return
	}

	challenge, err := s.engine.BeginRegistration(r.Context(), authn.RegistrationRequest{
		Email:          email,
		OrganisationID: q.Get("organisationId"),
		Client:         clientOf(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationResponse{
		CredentialID: challenge.CredentialID,
		PublicKey:    challenge.Options.Response,
	})
}

// handleCompleteRegistration handles POST /api/v1/auth/attestation?credentialId=.
// The body is the credential, optionally wrapped as {"attestationResponse": ...}.
func (s *Server) handleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	credentialID := r.URL.Query().Get("credentialId")
	if credentialID == "" {
		s.fail(w, r, apierr.BadRequest("credentialId is required"))
		return
	}
	body, err := readJSONBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(unwrapEnvelope(body, "attestationResponse")))
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.KindBadRequest, "Invalid attestation response", err))
		return
	}

	row, err := s.engine.CompleteRegistration(r.Context(), credentialID, parsed, clientOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registeredResponse{
		CredentialID: row.ID,
		DeviceName:   row.DeviceName,
		Verified:     row.Verified,
	})
}

// handleLookupLogin handles GET /api/v1/auth/assertion?challengeHash=.
func (s *Server) handleLookupLogin(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("challengeHash")
	if hash == "" {
		s.fail(w, r, apierr.BadRequest("Challenge hash is required."))
		return
	}
	options, err := s.engine.LookupLogin(r.Context(), hash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

// handleBeginLogin handles PUT /api/v1/auth/assertion?credentialId=.
// Answers 201 with options, or 202 once a verification link was sent.
func (s *Server) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	credentialID := r.URL.Query().Get("credentialId")
	if credentialID == "" {
		s.fail(w, r, apierr.BadRequest("Invalid authenticator credential id."))
		return
	}
	challenge, err := s.engine.BeginLogin(r.Context(), credentialID, clientOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if challenge.Pending {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusCreated, challenge.Options)
}

// handleCompleteLogin handles POST /api/v1/auth/assertion.
func (s *Server) handleCompleteLogin(w http.ResponseWriter, r *http.Request) {
	body, err := readJSONBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(unwrapEnvelope(body, "assertionResponse")))
	if err != nil {
		s.fail(w, r, apierr.Wrap(apierr.KindBadRequest, "Invalid assertion response", err))
		return
	}

	resp, err := s.engine.CompleteLogin(r.Context(), parsed, clientOf(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleToken handles POST /api/v1/auth/token with a JSON or form body.
// Client credentials may also arrive as HTTP Basic auth.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTokenRequest(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if id, secret, ok := r.BasicAuth(); ok && req.ClientID == "" {
		req.ClientID, req.ClientSecret = id, secret
	}

	resp, err := s.engine.Exchange(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func decodeTokenRequest(w http.ResponseWriter, r *http.Request) (authn.TokenRequest, error) {
	var req authn.TokenRequest
	switch mediaType(r) {
	case "application/json":
		body, err := readJSONBody(w, r)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return req, apierr.Wrap(apierr.KindBadRequest, "invalid JSON body", err)
		}
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return req, apierr.Wrap(apierr.KindBadRequest, "invalid form body", err)
		}
		req = authn.TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			AuthnToken:   r.PostForm.Get("authn_token"),
			RefreshToken: r.PostForm.Get("refresh_token"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			Scope:        r.PostForm.Get("scope"),
		}
	default:
		return req, apierr.New(apierr.KindUnsupportedMediaType, "Content-Type must be application/json or application/x-www-form-urlencoded")
	}
	if req.GrantType == "" {
		return req, apierr.BadRequest("grant_type is required")
	}
	return req, nil
}
