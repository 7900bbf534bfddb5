package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adwski/chatroom-server/backend/auth"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultMaxBodySize      = 1 << 16
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type AuthService interface {
	Login(username, password string) (string, error)
	Signup(username, password string) (string, error)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Username string `json:"username" validate:"required"`
	// bcrypt only accepts 72 bytes
	Password string `json:"password" validate:"required,max=72"`
}

type TokenResponse struct {
	Message string `json:"message,omitempty"`
	Token   string `json:"token"`
}

type GenericResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	logger   zerolog.Logger
	svc      AuthService
	validate *validator.Validate
	origin   string
	*http.Server
}

type Config struct {
	Logger        *zerolog.Logger
	AuthService   AuthService
	ListenAddr    string
	AllowedOrigin string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:   cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:      cfg.AuthService,
		validate: validator.New(),
		origin:   cfg.AllowedOrigin,
	}
	if srv.origin == "" {
		srv.origin = "*"
	}

	r := http.NewServeMux()
	r.HandleFunc("POST /login", srv.login)
	r.HandleFunc("POST /signup", srv.signup)
	r.HandleFunc("OPTIONS /", srv.corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func (srv *Server) corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", srv.origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) login(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", srv.origin)

	var req LoginRequest
	if err := srv.decode(r, &req); err != nil {
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "Username required"})
		return
	}

	token, err := srv.svc.Login(req.Username, req.Password)
	switch {
	case err == nil:
		srv.writeJSON(w, http.StatusOK, &TokenResponse{Token: token})
	case errors.Is(err, auth.ErrInvalidUsername):
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "Invalid username"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		srv.writeJSON(w, http.StatusUnauthorized, &GenericResponse{Error: "Invalid credentials"})
	default:
		srv.logger.Error().Err(err).Msg("login failed")
		srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: ErrUnexpected.Error()})
	}
}

func (srv *Server) signup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", srv.origin)

	var req SignupRequest
	if err := srv.decode(r, &req); err != nil {
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "Username and password required"})
		return
	}

	token, err := srv.svc.Signup(req.Username, req.Password)
	switch {
	case err == nil:
		srv.logger.Debug().Str("username", req.Username).Msg("user signed up")
		srv.writeJSON(w, http.StatusCreated, &TokenResponse{Message: "Signup successful", Token: token})
	case errors.Is(err, auth.ErrUsernameTaken):
		srv.writeJSON(w, http.StatusConflict, &GenericResponse{Error: "Username already exists"})
	case errors.Is(err, auth.ErrInvalidUsername):
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "Invalid username"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: "Invalid password"})
	default:
		srv.logger.Error().Err(err).Msg("signup failed")
		srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: ErrUnexpected.Error()})
	}
}

func (srv *Server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultMaxBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		return err
	}
	if err = json.Unmarshal(body, v); err != nil {
		return err
	}
	return srv.validate.Struct(v)
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
