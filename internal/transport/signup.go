package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signup"
)

type signupRequest struct {
	Email string `json:"email"`
}

type signupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

type emailsResponse struct {
	Emails []signup.Email `json:"emails"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeStatus(w, http.StatusBadRequest, errorBody{Error: "Email is required"})
		return
	}

	entry, err := s.signups.Signup(r.Context(), req.Email)
	switch {
	case errors.Is(err, signup.ErrInvalidEmail):
		writeStatus(w, http.StatusBadRequest, errorBody{Error: "Invalid email format"})
		return
	case errors.Is(err, signup.ErrAlreadyRegistered):
		writeStatus(w, http.StatusConflict, errorBody{Error: "Email already registered"})
		return
	case err != nil:
		s.logger.Error("signup failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, errorBody{Error: "Failed to save email"})
		return
	}

	writeStatus(w, http.StatusOK, signupResponse{
		Success: true,
		Message: "Email registered successfully",
		ID:      entry.ID,
	})
}

func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := s.signups.List(r.Context())
	if err != nil {
		s.logger.Error("listing emails failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, errorBody{Error: "Failed to fetch emails"})
		return
	}
	if emails == nil {
		emails = []signup.Email{}
	}
	label, _ := KeyLabelFromContext(r.Context())
	s.logger.Info("mailing list exported", "api_key", label, "count", len(emails))
	writeStatus(w, http.StatusOK, emailsResponse{Emails: emails})
}
