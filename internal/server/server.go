// Package server exposes the studio HTTP surface.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"inkstudio/internal/app"
	"inkstudio/internal/ratelimit"
	"inkstudio/internal/util"
	"inkstudio/pkg/bookshelf"
	"inkstudio/pkg/domain"
	"inkstudio/pkg/intake"
	"inkstudio/pkg/lifecycle"
	"inkstudio/pkg/payment"
	"inkstudio/pkg/plan"
	"inkstudio/pkg/session"
	"inkstudio/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	// Limiter guards the share-link resolve endpoint; UploadLimiter guards
	// uploads. Either may be nil to disable limiting.
	Limiter        ratelimit.Limiter
	UploadLimiter  ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
}

// Server routes studio requests to the app layer.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	limiter        ratelimit.Limiter
	uploadLimiter  ratelimit.Limiter
	proxies        *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = lifecycle.MaxFileBytes
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		limiter:        cfg.Limiter,
		uploadLimiter:  cfg.UploadLimiter,
		proxies:        cfg.TrustedProxies,
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the middleware stack.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("studio", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/plans", s.handlePlans)
	s.mux.HandleFunc("/api/manuscripts", s.handleManuscripts)
	s.mux.HandleFunc("/api/manuscripts/", s.handleManuscriptByID)
	s.mux.HandleFunc("/api/reports/", s.handleSharedReport)
	s.mux.HandleFunc("/api/jobs/", s.handleJob)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	plans := plan.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": plans,
		"count": len(plans),
	})
}

func (s *Server) handleManuscripts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		s.handleBookshelf(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allow(s.uploadLimiter, r) {
		writeError(w, http.StatusTooManyRequests, "too many uploads")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}
	details := session.Details{
		AuthorName:        r.FormValue("author"),
		ManuscriptTitle:   r.FormValue("title"),
		Email:             r.FormValue("email"),
		Genre:             r.FormValue("genre"),
		PublicationStatus: r.FormValue("publicationStatus"),
	}
	ms, res, err := s.app.UploadManuscript(r.Context(), header.Filename, data, details)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"manuscript": ms,
		"preflight":  res.Preflight,
	})
}

func (s *Server) handleBookshelf(w http.ResponseWriter, r *http.Request) {
	q := bookshelf.Query{
		Search: r.URL.Query().Get("search"),
		Sort:   bookshelf.ParseSortKey(r.URL.Query().Get("sort")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.ManuscriptStatus(raw)
		switch status {
		case domain.StatusAwaitingWisdom, domain.StatusUnderScrutiny, domain.StatusInsightsUnveiled:
			q.Status = status
		default:
			writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}
	items, err := s.app.Bookshelf(q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// /api/manuscripts/{id}[/analyze|/reanalyze|/download|/report|/report/token]
func (s *Server) handleManuscriptByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/manuscripts/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleManuscript(w, r, id)
	case "analyze":
		s.handleAnalyze(w, r, id)
	case "reanalyze":
		s.handleReanalyze(w, r, id)
	case "download":
		s.handleDownload(w, r, id)
	case "report":
		s.handleReport(w, r, id)
	case "report/token":
		s.handleRegenerateToken(w, r, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleManuscript(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		ms, err := s.app.Manuscript(id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ms)
	case http.MethodDelete:
		if err := s.app.Delete(r.Context(), id); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type analyzeRequest struct {
	Plan    string                `json:"plan"`
	Billing domain.BillingDetails `json:"billing"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, tx, err := s.app.Analyze(r.Context(), id, req.Plan, req.Billing)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := map[string]any{"job": job}
	if tx.ID != "" {
		resp["transaction"] = tx
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.Reanalyze(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.DownloadURL(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, ms, err := s.app.Report(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":     report,
		"manuscript": ms.Summary(),
	})
}

func (s *Server) handleRegenerateToken(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, expiry, err := s.app.RegenerateShareLink(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": expiry,
	})
}

// /api/reports/{token}
func (s *Server) handleSharedReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if !s.allow(s.limiter, r) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if token == "" || strings.Contains(token, "/") {
		notFound(w, "not found")
		return
	}
	view, err := s.app.SharedReport(token)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// /api/jobs/{id}
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	job, ok, err := s.app.JobStatus(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		notFound(w, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sess := s.app.StartUpload()
	writeJSON(w, http.StatusCreated, map[string]string{
		"sessionId": sess.ID,
		"step":      string(sess.Step()),
	})
}

// /api/sessions/{id}[/file|/details|/plan|/checkout|/start|/finish]
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleSession(w, r, id)
	case "file":
		s.handleSessionFile(w, r, id)
	case "details":
		s.handleSessionDetails(w, r, id)
	case "plan":
		s.handleSessionPlan(w, r, id)
	case "checkout":
		s.handleSessionCheckout(w, r, id)
	case "start":
		s.handleSessionStart(w, r, id)
	case "finish":
		s.handleSessionFinish(w, r, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.app.Session(id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		file, details, chosen, warning := sess.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionId":    sess.ID,
			"step":         string(sess.Step()),
			"file":         file,
			"details":      details,
			"plan":         chosen,
			"warning":      warning,
			"manuscriptId": sess.ManuscriptID(),
		})
	case http.MethodDelete:
		s.app.AbandonUpload(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSessionFile(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allow(s.uploadLimiter, r) {
		writeError(w, http.StatusTooManyRequests, "too many uploads")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}
	res, ms, err := s.app.AttachFile(r.Context(), id, header.Filename, data)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"manuscript": ms,
		"preflight":  res.Preflight,
		"wordCount":  res.WordCount,
	})
}

func (s *Server) handleSessionDetails(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var d session.Details
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ms, err := s.app.SubmitDetails(id, d)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

type planRequest struct {
	Plan string `json:"plan"`
}

func (s *Server) handleSessionPlan(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req planRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, warning, err := s.app.ChoosePlan(id, req.Plan)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	sess, err := s.app.Session(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":    p,
		"warning": warning,
		"step":    string(sess.Step()),
	})
}

func (s *Server) handleSessionCheckout(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var billing domain.BillingDetails
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&billing); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tx, err := s.app.Checkout(r.Context(), id, billing)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.StartAnalysis(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleSessionFinish(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.FinishSession(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
}

func (s *Server) allow(limiter ratelimit.Limiter, r *http.Request) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(util.ClientIP(r, s.proxies))
}

// writeDomainError maps sentinel errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrInvalidFile),
		errors.Is(err, lifecycle.ErrFileTooLarge),
		errors.Is(err, lifecycle.ErrUnknownPlan),
		errors.Is(err, intake.ErrUnreadable),
		errors.Is(err, session.ErrInvalidDetails),
		errors.Is(err, payment.ErrInvalidBilling):
		status = http.StatusBadRequest
	case errors.Is(err, payment.ErrPaymentDeclined):
		status = http.StatusPaymentRequired
	case errors.Is(err, lifecycle.ErrPlanLimit):
		status = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrManuscriptNotFound),
		errors.Is(err, app.ErrSessionNotFound),
		errors.Is(err, app.ErrNoReport),
		errors.Is(err, store.ErrTokenNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrConcurrentTransition),
		errors.Is(err, session.ErrStepOrder):
		status = http.StatusConflict
	case errors.Is(err, store.ErrTokenExpired):
		status = http.StatusGone
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("internal_error", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "MANUSCRIPT_INVALID_REQUEST"
	case http.StatusPaymentRequired:
		return "PAYMENT_DECLINED"
	case http.StatusForbidden:
		return "PLAN_LIMIT_REACHED"
	case http.StatusNotFound:
		return "MANUSCRIPT_NOT_FOUND"
	case http.StatusConflict:
		return "MANUSCRIPT_INVALID_STATE"
	case http.StatusGone:
		return "SHARE_TOKEN_EXPIRED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
