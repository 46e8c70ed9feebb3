package server

import (
	"net/http"
	"time"

	"busconnect/pkg/domain"
	"busconnect/services/busconnect/internal/app"
)

// authResponse is the user record with the issued session alongside it.
type authResponse struct {
	domain.User
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newAuthResponse(user domain.User, session app.Session) authResponse {
	return authResponse{User: user, Token: session.Token, ExpiresAt: session.ExpiresAt}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.app.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if !s.enableInit {
		s.audit(r, "schema.init", "fail", "reason", "disabled")
		writeError(w, r, http.StatusForbidden, codeInitDisabled, ErrInitDisabled.Error(), nil)
		return
	}
	if err := s.app.InitSchema(r.Context()); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "schema.init", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Database initialized successfully"})
}

// users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "user.signup", "rate_limited")
		return
	}
	var req app.SignUpInput
	if !s.decodeJSON(w, r, &req) {
		s.audit(r, "user.signup", "fail", "reason", "invalid_json")
		return
	}
	user, session, err := s.app.SignUp(r.Context(), req)
	if err != nil {
		s.audit(r, "user.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "user.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, newAuthResponse(user, session))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "user.login", "rate_limited")
		return
	}
	var req app.LoginInput
	if !s.decodeJSON(w, r, &req) {
		s.audit(r, "user.login", "fail", "reason", "invalid_json")
		return
	}
	user, session, err := s.app.Login(r.Context(), req)
	if err != nil {
		s.audit(r, "user.login", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "user.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, newAuthResponse(user, session))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User, token string) {
	if err := s.app.Logout(r.Context(), user, token); err != nil {
		s.audit(r, "user.logout", "fail", "user_id", user.ID)
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "user.logout", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User, _ string) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.app.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := s.app.GetUser(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// products
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.app.ListProducts(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req app.CreateProductInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	product, err := s.app.CreateProduct(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.app.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	product, err := s.app.GetProduct(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// checkins
func (s *Server) handleListCheckins(w http.ResponseWriter, r *http.Request) {
	checkins, err := s.app.ListCheckins(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkins)
}

func (s *Server) handleCreateCheckin(w http.ResponseWriter, r *http.Request) {
	var req app.CheckinInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	checkin, err := s.app.CreateCheckin(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkin)
}

func (s *Server) handleGetCheckin(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	checkin, err := s.app.GetCheckin(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkin)
}

// messages
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User, _ string) {
	var req app.SendMessageInput
	if !s.decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.app.SendMessage(r.Context(), user, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User, _ string) {
	msgs, err := s.app.Messages(r.Context(), user, r.PathValue("chatKey"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, user domain.User, _ string) {
	chats, err := s.app.Chats(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, codeNotFound, "route not found", nil)
}
