package api

import (
	"net/http"
	"time"

	"github.com/crossfield/ssobroker/pkg/httputil"
)

// MeResponse is the identity as presented to the calling application: the
// primary email selected by the app's domain ordering (or the immutable
// primary when the app demands it) plus the remaining aliases.
type MeResponse struct {
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	RelatedEmails  []string   `json:"related_emails"`
	AccessProfiles []string   `json:"access_profiles,omitempty"`
	LastAccessed   *time.Time `json:"last_accessed,omitempty"`
}

// handleMe resolves the subject user and renders it for the calling app.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	app, _, ok := s.application(r)
	if !ok {
		httputil.WriteForbidden(w, "application is not registered")
		return
	}

	ident, err := s.subject(r)
	if err != nil {
		s.writeSubjectError(w, err)
		return
	}

	if !app.CanAccess(ident) {
		httputil.WriteForbidden(w, "user may not access this application")
		return
	}

	order := app.EmailOrder(s.policy.DefaultOrder())
	primary, related := ident.EmailsForApplication(order, app.ProvideImmutableEmail)

	httputil.WriteJSONOrError(w, http.StatusOK, MeResponse{
		UserID:         ident.ID,
		Email:          primary,
		FirstName:      ident.FirstName,
		LastName:       ident.LastName,
		RelatedEmails:  related,
		AccessProfiles: ident.AccessProfiles,
		LastAccessed:   ident.LastAccessed,
	}, "failed to encode identity")
}
