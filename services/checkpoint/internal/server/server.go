package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkpoint/internal/metrics"
	"checkpoint/internal/ratelimit"
	"checkpoint/internal/util"
	"checkpoint/pkg/domain"
	"checkpoint/pkg/store"
	"checkpoint/services/checkpoint/internal/app"
)

const (
	serviceName         = "checkpoint"
	maxJSONBody         = 1 << 20
	multipartMemory     = 32 << 20
	defaultMaxUpload    = 10 << 20
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	msgNoCredentials    = "Authentication credentials were not provided."
	msgInvalidToken     = "Invalid token."
	msgServerError      = "A server error occurred."
	msgPermissionDenied = "You do not have permission to perform this action."
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Metrics *metrics.Metrics
	// LoginLimiter throttles login per client IP; nil disables throttling.
	LoginLimiter       *ratelimit.FixedWindowLimiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
	// APIPrefix is prepended to every API route, e.g. "/api".
	APIPrefix      string
	RequireAuth    bool
	MaxUploadBytes int64
	// MediaDir is served read-only under /media/ when set.
	MediaDir string
	// Health reports backing service health for /healthz.
	Health func(ctx context.Context) error
}

// Server exposes the check-in HTTP API.
type Server struct {
	app            *app.App
	metrics        *metrics.Metrics
	loginLimiter   *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	corsOrigins    []string
	prefix         string
	requireAuth    bool
	maxUploadBytes int64
	mediaDir       string
	health         func(ctx context.Context) error
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	s := &Server{
		app:            cfg.App,
		metrics:        cfg.Metrics,
		loginLimiter:   cfg.LoginLimiter,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSAllowedOrigins,
		prefix:         strings.TrimRight(strings.TrimSpace(cfg.APIPrefix), "/"),
		requireAuth:    cfg.RequireAuth,
		maxUploadBytes: maxUpload,
		mediaDir:       cfg.MediaDir,
		health:         cfg.Health,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the shared middleware chain.
func (s *Server) Router() http.Handler {
	h := util.WithCORS(s.corsOrigins, s.mux)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(serviceName, s.trusted, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	if s.mediaDir != "" {
		s.mux.Handle("/media/", http.StripPrefix("/media/", noDirListing(http.FileServer(http.Dir(s.mediaDir)))))
	}

	// auth
	s.handle("/auth/login", "auth.login", http.HandlerFunc(s.handleLogin))
	s.handle("/auth/logout", "auth.logout", s.authenticated(s.handleLogout))
	s.handle("/auth/me", "auth.me", s.authenticated(s.handleMe))

	// records
	students := s.metrics.Instrument("students", s.gated(s.handleStudents))
	s.mux.Handle(s.prefix+"/students", students)
	s.mux.Handle(s.prefix+"/students/", students)

	// uploads
	s.handle("/upload", "upload", s.gated(s.handleUpload))
}

// handle registers path with and without its trailing slash.
func (s *Server) handle(path, route string, h http.Handler) {
	h = s.metrics.Instrument(route, h)
	s.mux.Handle(s.prefix+path, h)
	s.mux.Handle(s.prefix+path+"/", exactOnly(s.prefix+path+"/", h))
}

func exactOnly(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			writeError(w, http.StatusNotFound, "Not found.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, "Not found.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, app.Account)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, ok := s.authorize(w, r)
		if !ok {
			return
		}
		next(w, r, acct)
	})
}

// gated requires a token only when the server runs with requireAuth.
func (s *Server) gated(next authHandler) http.Handler {
	if !s.requireAuth {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next(w, r, app.Account{})
		})
	}
	return s.authenticated(next)
}

func (s *Server) adminOnly(next authHandler) authHandler {
	return func(w http.ResponseWriter, r *http.Request, acct app.Account) {
		if acct.User.ID == "" {
			var ok bool
			if acct, ok = s.authorize(w, r); !ok {
				return
			}
		}
		if acct.Role != domain.RoleAdmin {
			s.audit(r, "checkpoint.admin.authorize", "fail", "user_id", acct.User.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, msgPermissionDenied)
			return
		}
		next(w, r, acct)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (app.Account, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "checkpoint.token.verify", "fail", "reason", "missing_token")
		writeUnauthorized(w, msgNoCredentials)
		return app.Account{}, false
	}
	acct, err := s.app.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, app.ErrUnauthorized) {
			s.audit(r, "checkpoint.token.verify", "fail", "reason", "invalid_token")
			writeUnauthorized(w, msgInvalidToken)
			return app.Account{}, false
		}
		s.writeAppError(w, r, err)
		return app.Account{}, false
	}
	return acct, true
}

// auth handlers
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowLogin(w, r) {
		s.audit(r, "checkpoint.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.audit(r, "checkpoint.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "Malformed JSON body.")
		return
	}
	sess, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.metrics.LoginFailed()
		}
		s.audit(r, "checkpoint.login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "checkpoint.login", "success", "user_id", sess.User.ID)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, acct app.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "checkpoint.logout", "fail", "user_id", acct.User.ID, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "checkpoint.logout", "success", "user_id", acct.User.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, acct app.Account) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, acct.View())
}

// record handlers
func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request, acct app.Account) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, s.prefix+"/students"), "/")
	var parts []string
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	switch {
	case len(parts) == 0:
		s.onlyMethod(w, r, http.MethodGet, s.handleListStudents)
	case len(parts) == 1 && parts[0] == "checkin":
		s.onlyMethod(w, r, http.MethodPost, s.handleCheckIn)
	case len(parts) == 1 && parts[0] == "stats":
		s.onlyMethod(w, r, http.MethodGet, s.handleStats)
	case len(parts) == 1 && parts[0] == "export":
		s.onlyMethod(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			s.adminOnly(s.handleExport)(w, r, acct)
		})
	case len(parts) == 2 && parts[0] == "by-student-id":
		s.onlyMethod(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			s.writeStudent(w, r, http.StatusOK)(s.app.GetStudentByStudentID(r.Context(), parts[1]))
		})
	case len(parts) == 2 && parts[0] == "by-record-id":
		s.onlyMethod(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			s.writeStudent(w, r, http.StatusOK)(s.app.GetStudentByRecordID(r.Context(), parts[1]))
		})
	case len(parts) == 2 && parts[1] == "checkout":
		s.onlyMethod(w, r, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
			student, err := s.app.CheckOut(r.Context(), parts[0])
			if err == nil {
				s.metrics.RecordTransition(string(student.Status))
			}
			s.writeStudent(w, r, http.StatusOK)(student, err)
		})
	case len(parts) == 1:
		s.onlyMethod(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			s.writeStudent(w, r, http.StatusOK)(s.app.GetStudent(r.Context(), parts[0]))
		})
	default:
		writeError(w, http.StatusNotFound, "Not found.")
	}
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	items, count, err := s.app.ListStudents(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app.NewStudentList(items, count))
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read request body.")
		return
	}
	payload, err := app.DecodeCheckIn(body)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	student, err := s.app.CheckIn(r.Context(), payload)
	if err == nil {
		s.metrics.RecordTransition(string(student.Status))
	}
	s.writeStudent(w, r, http.StatusCreated)(student, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.app.Stats(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, acct app.Account) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.app.ExportStudents(r.Context(), filter, &buf); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "checkpoint.export", "success", "user_id", acct.User.ID)
	name := fmt.Sprintf("students-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ app.Account) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request entity too large.")
			return
		}
		writeError(w, http.StatusBadRequest, "Multipart form parse error.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	category := r.FormValue("type")
	file, header, err := r.FormFile("file")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "Multipart form parse error.")
			return
		}
		_, err = s.app.Upload(r.Context(), category, "", nil, 0)
		s.writeAppError(w, r, err)
		return
	}
	defer file.Close()

	url, err := s.app.Upload(r.Context(), category, header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) onlyMethod(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		methodNotAllowed(w)
		return
	}
	next(w, r)
}

func (s *Server) writeStudent(w http.ResponseWriter, r *http.Request, status int) func(domain.Student, error) {
	return func(student domain.Student, err error) {
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, status, app.NewStudentResource(student))
	}
}

func parseFilter(w http.ResponseWriter, r *http.Request) (store.StudentFilter, bool) {
	q := r.URL.Query()
	filter := store.StudentFilter{
		Search: q.Get("search"),
		Status: domain.StudentStatus(strings.TrimSpace(q.Get("status"))),
	}
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, http.StatusNotFound, "Invalid page.")
			return store.StudentFilter{}, false
		}
		filter.Page = page
		if size, err := strconv.Atoi(strings.TrimSpace(q.Get("pageSize"))); err == nil {
			filter.PageSize = size
		}
	}
	return filter, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// bearerToken accepts both the "Token" and "Bearer" schemes.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok {
		return "", false
	}
	if !strings.EqualFold(scheme, "Token") && !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Token")
	writeError(w, http.StatusUnauthorized, msg)
}

// writeAppError is the single place app errors become HTTP statuses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, app.ErrInvalidUploadType):
		writeError(w, http.StatusBadRequest, "Invalid type")
	case errors.Is(err, app.ErrFileRequired):
		writeError(w, http.StatusBadRequest, "No file was submitted.")
	case errors.Is(err, app.ErrConflict), errors.Is(err, app.ErrAccountExists):
		writeError(w, http.StatusConflict, err.Error()+".")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Invalid credentials")
	case errors.Is(err, app.ErrUnauthorized):
		writeUnauthorized(w, msgInvalidToken)
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, msgServerError)
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowLogin(w http.ResponseWriter, r *http.Request) bool {
	if s.loginLimiter == nil {
		return true
	}
	if s.loginLimiter.Allow(r.Context(), "login:"+util.ClientIP(r, s.trusted)) {
		return true
	}
	retry := int(s.loginLimiter.RetryAfter() / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "Request was throttled.")
	return false
}
