// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package api

import (
	"net/http"

	"github.com/tessera-ai/retriever/internal/models"
)

// handleGuestToken mints a short-lived guest session. Whether guests may
// actually submit searches is a separate policy checked at submission.
func (s *Server) handleGuestToken(w http.ResponseWriter, _ *http.Request) {
	token, expiresIn, err := s.auth.IssueGuest()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	respondJSON(w, http.StatusOK, models.GuestTokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}
