package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apnastudent/portal/internal/api"
	"apnastudent/portal/internal/auth"
	"apnastudent/portal/internal/config"
	"apnastudent/portal/internal/handshake"
	"apnastudent/portal/internal/identity"
	"apnastudent/portal/internal/session"
)

type Server struct {
	cfg       config.Config
	backend   *api.Client
	sessions  session.Store
	handshake *handshake.Handshake
}

func NewServer(cfg config.Config, backend *api.Client, provider *identity.Client, sessions session.Store) *Server {
	return &Server{
		cfg:       cfg,
		backend:   backend,
		sessions:  sessions,
		handshake: handshake.New(provider, backend, sessions, cfg.SessionRevalidateAfter),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.ensureSession).Post("/auth/login", s.handleLogin)
	r.With(s.ensureSession).Post("/auth/register", s.handleRegister)
	r.With(s.ensureSession).Post("/auth/verify", s.handleVerify)
	r.With(s.ensureSession).Post("/auth/logout", s.handleLogout)
	r.With(s.ensureSession).Get("/auth/session", s.handleResume)

	r.Get("/users/search", s.handleSearchUsers)
	r.Get("/ws/search", s.handleSearchSocket)
	r.Get("/profile/{handle}", s.handleGetProfile)

	r.With(s.requireSession).Get("/dashboard", s.handleDashboard)
	r.With(s.requireSession).Post("/projects", s.handleAddProject)
	r.With(s.requireSession).Delete("/projects/{projectId}", s.handleDeleteProject)
	r.With(s.requireSession).Put("/profile", s.handleUpdateProfile)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireSession, s.requireAdmin)
		r.Get("/overview", s.handleAdminOverview)
		r.Post("/users", s.handleAdminAddUser)
		r.Delete("/users/{userId}", s.handleAdminDeleteUser)
	})

	return r
}

// Sessions

type sidKey struct{}
type sessionKey struct{}

// ensureSession guarantees the request carries a portal session id, minting a
// fresh one into the cookie when none is present. Routes that run the
// handshake use this; routes that require an authenticated Session use
// requireSession.
func (s *Server) ensureSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := s.sidFromRequest(r)
		if sid == "" {
			sid = uuid.NewString()
			token, err := auth.NewSessionToken(s.cfg.SessionSecret, s.cfg.SessionIssuer, s.cfg.SessionTTL, sid)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "session_error")
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     s.cfg.SessionCookieName,
				Value:    token,
				Path:     "/",
				MaxAge:   int(s.cfg.SessionTTL.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), sidKey{}, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := s.sidFromRequest(r)
		if sid == "" {
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		sess, err := s.sessions.Get(r.Context(), sid)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "session_error")
			return
		}
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "not_authenticated")
			return
		}
		ctx := context.WithValue(r.Context(), sidKey{}, sid)
		ctx = context.WithValue(ctx, sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromContext(r.Context())
		if sess == nil || sess.Role != api.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sidFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookieName)
	if err != nil {
		return ""
	}
	claims, err := auth.ParseSessionToken(s.cfg.SessionSecret, cookie.Value)
	if err != nil {
		return ""
	}
	return claims.SessionID
}

func sidFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(sidKey{}).(string)
	return sid
}

func sessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionKey{}).(*session.Session)
	return sess
}

// Auth

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	AdminOnly bool   `json:"adminOnly"`
}

type sessionView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type authResponse struct {
	State    string       `json:"state"`
	User     *sessionView `json:"user,omitempty"`
	Redirect string       `json:"redirect,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	result, err := s.handshake.Login(r.Context(), sidFromContext(r.Context()), handshake.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		AdminOnly: req.AdminOnly,
	})
	if err != nil {
		s.writeHandshakeError(w, result, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		State:    string(result.State),
		User:     viewOf(result.Session),
		Redirect: result.Redirect,
	})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	USN      string `json:"usn"`
	Bio      string `json:"bio"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_required_field")
		return
	}

	result, err := s.handshake.Register(r.Context(), sidFromContext(r.Context()), session.PendingSignup{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		USN:      req.USN,
		Bio:      req.Bio,
	})
	if err != nil {
		var provider *identity.Error
		if errors.As(err, &provider) {
			writeError(w, http.StatusBadRequest, "signup_failed")
			return
		}
		writeError(w, http.StatusBadGateway, "identity_unavailable")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{State: string(result.State)})
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "missing_code")
		return
	}

	result, err := s.handshake.Verify(r.Context(), sidFromContext(r.Context()), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, handshake.ErrNoPendingSignup):
			writeError(w, http.StatusConflict, "no_pending_signup")
		case errors.Is(err, handshake.ErrVerificationIncomplete):
			writeError(w, http.StatusBadRequest, "verification_incomplete")
		case api.IsValidation(err):
			writeError(w, http.StatusConflict, "registration_rejected")
		default:
			var provider *identity.Error
			if errors.As(err, &provider) {
				writeError(w, http.StatusBadRequest, "invalid_code")
				return
			}
			writeError(w, http.StatusBadGateway, "sync_failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		State:    string(result.State),
		User:     viewOf(result.Session),
		Redirect: result.Redirect,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	result, err := s.handshake.Logout(r.Context(), sidFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "logout_failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{State: string(result.State), Redirect: result.Redirect})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	result, err := s.handshake.Resume(r.Context(), sidFromContext(r.Context()))
	if err != nil {
		s.writeHandshakeError(w, result, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		State:    string(result.State),
		User:     viewOf(result.Session),
		Redirect: result.Redirect,
	})
}

func (s *Server) writeHandshakeError(w http.ResponseWriter, result handshake.Result, err error) {
	switch {
	case errors.Is(err, handshake.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied")
	case errors.Is(err, handshake.ErrRegistrationRequired):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":    "registration_required",
			"redirect": result.Redirect,
		})
	case errors.Is(err, handshake.ErrEmailRequired):
		writeError(w, http.StatusBadRequest, "email_required")
	default:
		var provider *identity.Error
		if errors.As(err, &provider) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusBadGateway, "sync_failed")
	}
}

// Search

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if utf8.RuneCountInString(name) < s.cfg.SearchMinQueryLen {
		writeJSON(w, http.StatusOK, []api.SearchResult{})
		return
	}
	results, err := s.backend.SearchUsers(r.Context(), name)
	if err != nil {
		// Read paths degrade to empty results rather than hard failures.
		log.Printf("search error: %v", err)
		writeJSON(w, http.StatusOK, []api.SearchResult{})
		return
	}
	if results == nil {
		results = []api.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// Profiles

type profileResponse struct {
	User     api.User      `json:"user"`
	Projects []api.Project `json:"projects"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, "missing_handle")
		return
	}

	user, err := s.lookupByHandle(r.Context(), handle)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			writeError(w, http.StatusNotFound, "student_not_found")
			return
		}
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}

	projects, err := s.backend.ListUserProjects(r.Context(), user.ID)
	if err != nil {
		log.Printf("project list error for user %d: %v", user.ID, err)
		projects = nil
	}
	if projects == nil {
		projects = []api.Project{}
	}
	writeJSON(w, http.StatusOK, profileResponse{User: user, Projects: projects})
}

// lookupByHandle resolves a profile route segment: a username, or the
// synthetic "user{id}" handle used for accounts without one.
func (s *Server) lookupByHandle(ctx context.Context, handle string) (api.User, error) {
	user, err := s.backend.GetUserByUsername(ctx, handle)
	if !errors.Is(err, api.ErrNotFound) {
		return user, err
	}
	if rest, ok := strings.CutPrefix(handle, "user"); ok {
		if id, convErr := strconv.ParseInt(rest, 10, 64); convErr == nil {
			return s.backend.GetUserByID(ctx, id)
		}
	}
	return api.User{}, api.ErrNotFound
}

// Dashboard

type dashboardResponse struct {
	User     sessionView   `json:"user"`
	Projects []api.Project `json:"projects"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	projects, err := s.backend.ListUserProjects(r.Context(), sess.UserID)
	if err != nil {
		log.Printf("project list error for user %d: %v", sess.UserID, err)
		projects = nil
	}
	if projects == nil {
		projects = []api.Project{}
	}
	writeJSON(w, http.StatusOK, dashboardResponse{User: *viewOf(sess), Projects: projects})
}

type addProjectRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	GithubURL     string `json:"githubUrl"`
	DemoURL       string `json:"demoUrl"`
	ReadmeContent string `json:"readmeContent"`
}

func (s *Server) handleAddProject(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req addProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "missing_title")
		return
	}

	_, err := s.backend.AddProject(r.Context(), api.Project{
		Title:         req.Title,
		Description:   req.Description,
		GithubURL:     req.GithubURL,
		DemoURL:       req.DemoURL,
		ReadmeContent: req.ReadmeContent,
		User:          &api.UserRef{ID: sess.UserID},
	})
	if err != nil {
		if api.IsValidation(err) {
			writeError(w, http.StatusBadRequest, "project_rejected")
			return
		}
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}

	// Read-through refresh: the view is re-fetched after every mutation
	// rather than updated optimistically.
	projects, err := s.backend.ListUserProjects(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"projects": projects})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	projectID, err := strconv.ParseInt(chi.URLParam(r, "projectId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_project_id")
		return
	}

	projects, err := s.backend.ListUserProjects(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	owned := false
	for _, project := range projects {
		if project.ID == projectID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, "project_not_found")
		return
	}

	if err := s.backend.DeleteProject(r.Context(), projectID); err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}

	projects, err = s.backend.ListUserProjects(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

type updateProfileRequest struct {
	Name     *string `json:"name,omitempty"`
	Username *string `json:"username,omitempty"`
	USN      *string `json:"usn,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	user, err := s.backend.GetUserByID(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Username != nil && strings.TrimSpace(*req.Username) != "" {
		user.Username = strings.TrimSpace(*req.Username)
	}
	if req.USN != nil {
		user.USN = strings.TrimSpace(*req.USN)
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}

	updated, err := s.backend.UpdateUser(r.Context(), sess.UserID, user)
	if err != nil {
		if api.IsValidation(err) {
			writeError(w, http.StatusConflict, "update_rejected")
			return
		}
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Admin

type adminOverviewResponse struct {
	Stats api.Stats  `json:"stats"`
	Users []api.User `json:"users"`
}

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.fetchAdminOverview(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

type adminAddUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleAdminAddUser(w http.ResponseWriter, r *http.Request) {
	var req adminAddUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing_required_field")
		return
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = api.RoleStudent
	}
	if role != api.RoleStudent && role != api.RoleAdmin {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	_, err := s.backend.AdminAddUser(r.Context(), api.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		if api.IsValidation(err) {
			writeError(w, http.StatusConflict, "user_rejected")
			return
		}
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}

	overview, err := s.fetchAdminOverview(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, overview)
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}

	// The backend cascades the delete to the user's projects.
	if err := s.backend.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}

	overview, err := s.fetchAdminOverview(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) fetchAdminOverview(ctx context.Context) (adminOverviewResponse, error) {
	stats, err := s.backend.Stats(ctx)
	if err != nil {
		return adminOverviewResponse{}, err
	}
	users, err := s.backend.ListUsers(ctx)
	if err != nil {
		return adminOverviewResponse{}, err
	}
	if users == nil {
		users = []api.User{}
	}
	return adminOverviewResponse{Stats: stats, Users: users}, nil
}

// Helpers

func viewOf(sess *session.Session) *sessionView {
	if sess == nil {
		return nil
	}
	return &sessionView{
		ID:       sess.UserID,
		Name:     sess.Name,
		Email:    sess.Email,
		Username: sess.Username,
		Role:     sess.Role,
	}
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
