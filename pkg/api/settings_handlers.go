package api

import (
	"errors"
	"net/http"

	"github.com/crossfield/ssobroker/pkg/auth"
	"github.com/crossfield/ssobroker/pkg/httputil"
	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/settings"
)

// handleSettingsRead returns the caller-visible settings of the subject
// user: the global namespace plus the calling application's own, or every
// namespace when a privileged app asks with match_all=true.
func (s *Server) handleSettingsRead(w http.ResponseWriter, r *http.Request) {
	app, authCtx, ok := s.application(r)
	if !ok {
		httputil.WriteForbidden(w, "application is not registered")
		return
	}

	ident, err := s.subject(r)
	if err != nil {
		s.writeSubjectError(w, err)
		return
	}

	matchAll, err := httputil.ParseQueryBool(r, "match_all", false)
	if err != nil {
		httputil.WriteValidationError(w, "match_all must be a boolean")
		return
	}
	if matchAll && !app.CanViewAllUserSettings {
		httputil.WriteForbidden(w, "application may not view all user settings")
		return
	}

	out, err := s.settings.Read(r.Context(), ident.ID, app.Key, matchAll)
	if err != nil {
		s.writeSettingsError(w, r, authCtx, auth.ActionSettingsRead, "read", err)
		return
	}

	s.observeSettings("read", "success")
	httputil.WriteJSONOrError(w, http.StatusOK, out, "failed to encode settings")
}

// handleSettingsWrite applies a partial settings update. A structural
// conflict anywhere in the request rejects the whole write; nothing is
// partially applied.
func (s *Server) handleSettingsWrite(w http.ResponseWriter, r *http.Request) {
	app, authCtx, ok := s.application(r)
	if !ok {
		httputil.WriteForbidden(w, "application is not registered")
		return
	}

	ident, err := s.subject(r)
	if err != nil {
		s.writeSubjectError(w, err)
		return
	}

	var body map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	if err := s.settings.Write(r.Context(), ident.ID, app.Key, body); err != nil {
		s.writeSettingsError(w, r, authCtx, auth.ActionSettingsWrite, "write", err)
		return
	}

	s.observeSettings("write", "success")
	s.audit.LogFromRequest(r, authCtx, auth.ActionSettingsWrite, "settings", ident.ID, auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

// handleSettingsDelete removes the subtrees addressed by the request body.
// Every addressed path must exist or the whole request is rejected.
func (s *Server) handleSettingsDelete(w http.ResponseWriter, r *http.Request) {
	app, authCtx, ok := s.application(r)
	if !ok {
		httputil.WriteForbidden(w, "application is not registered")
		return
	}

	ident, err := s.subject(r)
	if err != nil {
		s.writeSubjectError(w, err)
		return
	}

	var body map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	if err := s.settings.Delete(r.Context(), ident.ID, app.Key, body); err != nil {
		s.writeSettingsError(w, r, authCtx, auth.ActionSettingsDelete, "delete", err)
		return
	}

	s.observeSettings("delete", "success")
	s.audit.LogFromRequest(r, authCtx, auth.ActionSettingsDelete, "settings", ident.ID, auth.StatusSuccess, nil)
	httputil.WriteNoContent(w)
}

func (s *Server) writeSubjectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNoSubject):
		httputil.WriteValidationError(w, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	default:
		httputil.WriteInternalError(w, err)
	}
}

// writeSettingsError maps settings-service failures onto the HTTP surface.
// Duplicate stored rows for one root key surface as 300 Multiple Choices so
// integrity violations are distinguishable from caller mistakes.
func (s *Server) writeSettingsError(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, action, operation string, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalidEnvelope):
		s.observeSettings(operation, "invalid")
		httputil.WriteValidationError(w, err.Error())
	case settings.IsConflict(err):
		s.observeSettings(operation, "conflict")
		s.observeSettingsConflict(err)
		httputil.WriteValidationError(w, err.Error())
	case settings.IsNotFound(err):
		s.observeSettings(operation, "not_found")
		httputil.WriteNotFoundError(w, err.Error())
	case settings.IsMultipleChoices(err):
		s.observeSettings(operation, "multiple_choices")
		s.observeSettingsConflict(err)
		s.logger.WithError(err).Error("settings root key uniqueness violated")
		httputil.WriteErrorMessage(w, http.StatusMultipleChoices, err.Error())
	default:
		s.observeSettings(operation, "error")
		s.audit.LogFromRequest(r, authCtx, action, "settings", "", auth.StatusFailure, err)
		httputil.WriteInternalError(w, err)
	}
}

func (s *Server) observeSettings(operation, status string) {
	if s.metrics != nil {
		s.metrics.SettingsOperationsTotal.WithLabelValues(operation, status).Inc()
	}
}

func (s *Server) observeSettingsConflict(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case settings.IsMergeConflict(err):
		s.metrics.SettingsConflictsTotal.WithLabelValues("merge").Inc()
	case settings.IsPathConflict(err):
		s.metrics.SettingsConflictsTotal.WithLabelValues("path").Inc()
	case settings.IsMultipleChoices(err):
		s.metrics.SettingsConflictsTotal.WithLabelValues("multiple_choices").Inc()
	}
}
