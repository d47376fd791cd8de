package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/crossfield/ssobroker/pkg/async"
	"github.com/crossfield/ssobroker/pkg/auth"
	"github.com/crossfield/ssobroker/pkg/export"
	"github.com/crossfield/ssobroker/pkg/httputil"
	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/middleware"
)

// UserImportRequest is the body of POST /api/v1/admin/users/import.
type UserImportRequest struct {
	Rows []identity.ImportRow `json:"rows"`
	// Applications granted to every imported user, in addition to grants
	// they already hold.
	Applications []string `json:"applications,omitempty"`
	DryRun       bool     `json:"dry_run,omitempty"`
}

// AliasImportRequest is the body of POST /api/v1/admin/users/import/aliases.
type AliasImportRequest struct {
	Rows   []identity.AliasRow `json:"rows"`
	DryRun bool                `json:"dry_run,omitempty"`
}

// handleUserImport runs a bulk merge import and returns the batch report.
// With dry_run set, the identical report is computed but nothing persists.
func (s *Server) handleUserImport(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	var req UserImportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Rows) == 0 {
		httputil.WriteValidationError(w, "rows are required")
		return
	}

	mode := "live"
	if req.DryRun {
		mode = "dry_run"
	}

	start := time.Now()
	reconciler := identity.NewReconciler(s.store, s.policy, s.logger)
	report, err := reconciler.Reconcile(r.Context(), req.Rows, req.Applications, req.DryRun)
	s.observeReconciliation(mode, report, time.Since(start), err)

	if err != nil {
		s.audit.LogFromRequest(r, authCtx, auth.ActionUserImport, "user", "", auth.StatusFailure, err)
		if identity.IsAliasConflict(err) {
			// The batch stopped at the conflicting row; the report covers
			// everything applied before it.
			httputil.WriteJSONOrError(w, http.StatusConflict, map[string]interface{}{
				"error":  err.Error(),
				"report": report,
			}, "failed to encode import report")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	s.audit.LogFromRequest(r, authCtx, auth.ActionUserImport, "user", "", auth.StatusSuccess, nil)
	if !req.DryRun {
		s.warmIdentityCache(req.Rows)
	}
	httputil.WriteJSONOrError(w, http.StatusOK, report, "failed to encode import report")
}

// warmIdentityCache primes the read path for freshly imported users in the
// background, so the first settings lookups after a bulk import do not all
// miss the cache at once. Failures only mean a cold cache.
func (s *Server) warmIdentityCache(rows []identity.ImportRow) {
	emails := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row.Emails) > 0 {
			emails = append(emails, row.Emails[0])
		}
	}
	if len(emails) == 0 {
		return
	}

	async.SafeGoNoError(context.Background(), time.Minute, "identity cache warm", func(ctx context.Context) {
		errs := async.Batch(ctx, emails, 4, "identity cache warm", 10*time.Second, func(ctx context.Context, email string) error {
			_, err := s.store.GetByEmail(ctx, email)
			return err
		})
		if len(errs) > 0 {
			s.logger.WithField("failures", len(errs)).Debug("Cache warm finished with lookup failures")
		}
	})
}

// handleAliasImport attaches new aliases to existing identities. Rows that
// would require a merge are skipped and reported, never applied.
func (s *Server) handleAliasImport(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	var req AliasImportRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Rows) == 0 {
		httputil.WriteValidationError(w, "rows are required")
		return
	}

	importer := identity.NewAliasImporter(s.store)
	report, err := importer.Import(r.Context(), req.Rows, req.DryRun)
	if err != nil {
		s.audit.LogFromRequest(r, authCtx, auth.ActionAliasAdd, "user", "", auth.StatusFailure, err)
		httputil.WriteInternalError(w, err)
		return
	}

	s.audit.LogFromRequest(r, authCtx, auth.ActionAliasAdd, "user", "", auth.StatusSuccess, nil)
	httputil.WriteJSONOrError(w, http.StatusOK, report, "failed to encode alias report")
}

// handleUserExport streams the user-data CSV. With upload=true the export is
// additionally written to the configured S3 bucket and the object key
// returned instead of the CSV body.
func (s *Server) handleUserExport(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	upload, err := httputil.ParseQueryBool(r, "upload", false)
	if err != nil {
		httputil.WriteValidationError(w, "upload must be a boolean")
		return
	}

	var buf bytes.Buffer
	rows, err := s.exporter.WriteCSV(r.Context(), &buf)
	if err != nil {
		s.audit.LogFromRequest(r, authCtx, auth.ActionUserExport, "user", "", auth.StatusFailure, err)
		httputil.WriteInternalError(w, err)
		return
	}

	if upload {
		if s.uploader == nil {
			httputil.WriteValidationError(w, "export uploads are not configured")
			return
		}
		key := export.ObjectKey(time.Now())
		if err := s.uploader.Upload(r.Context(), key, buf.Bytes()); err != nil {
			s.audit.LogFromRequest(r, authCtx, auth.ActionUserExport, "user", key, auth.StatusFailure, err)
			httputil.WriteInternalError(w, err)
			return
		}
		s.audit.LogFromRequest(r, authCtx, auth.ActionUserExport, "user", key, auth.StatusSuccess, nil)
		httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
			"object_key": key,
			"rows":       rows,
		}, "failed to encode export response")
		return
	}

	s.audit.LogFromRequest(r, authCtx, auth.ActionUserExport, "user", "", auth.StatusSuccess, nil)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "users.csv"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.WithError(err).Warn("failed to stream user export")
	}
}

func (s *Server) observeReconciliation(mode string, report *identity.Report, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.ReconciliationRunsTotal.WithLabelValues(mode, status).Inc()
	s.metrics.ReconciliationDuration.Observe(elapsed.Seconds())
	if identity.IsAliasConflict(err) {
		s.metrics.AliasConflictsTotal.Inc()
	}
	if report != nil {
		s.metrics.ReconciliationRowsTotal.WithLabelValues("created").Add(float64(report.UsersCreated))
		s.metrics.ReconciliationRowsTotal.WithLabelValues("updated").Add(float64(report.UsersUpdated))
		s.metrics.ReconciliationRowsTotal.WithLabelValues("failed").Add(float64(report.RowsFailed))
		s.metrics.IdentitiesDeletedTotal.Add(float64(report.UsersDeleted))
	}
}
