package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roadassist/account"
	"roadassist/identity"
	"roadassist/issue"
)

type issueService interface {
	Create(ctx context.Context, actor identity.Actor, in issue.CreateInput) (issue.Issue, error)
	Nearby(ctx context.Context, actor identity.Actor, q issue.NearbyQuery) ([]issue.NearbyView, error)
	SubmitOffer(ctx context.Context, actor identity.Actor, issueID string, in issue.OfferInput) (issue.Issue, issue.Offer, error)
	AcceptOffer(ctx context.Context, actor identity.Actor, issueID, offerID string) (issue.Issue, error)
	RejectOffer(ctx context.Context, actor identity.Actor, issueID, offerID string) (issue.Issue, error)
	ListMine(ctx context.Context, actor identity.Actor) ([]issue.View, error)
	ListWithMyOffers(ctx context.Context, actor identity.Actor) ([]issue.View, error)
	Get(ctx context.Context, actor identity.Actor, issueID string) (issue.View, error)
}

type accountService interface {
	Register(ctx context.Context, req account.RegisterRequest) (*account.User, error)
	Login(ctx context.Context, req account.LoginRequest) (account.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*account.User, error)
	SetLive(ctx context.Context, actor identity.Actor, live bool) (*account.User, error)
	VerifyToken(tokenString string) (identity.Actor, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	issues   issueService
	accounts accountService
	ready    func(context.Context) error
	logger   *slog.Logger
}

func NewServer(issues issueService, accounts accountService, ready func(context.Context) error, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{issues: issues, accounts: accounts, ready: ready, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/ready", s.handleReady)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(authed chi.Router) {
			authed.Use(s.authenticate)

			authed.Get("/auth/me", s.handleMe)
			authed.With(requireRole(identity.RoleProvider)).Patch("/providers/me/live", s.handleSetLive)

			authed.Route("/issues", func(ir chi.Router) {
				ir.With(requireRole(identity.RoleRequester)).Post("/", s.handleCreateIssue)
				ir.With(requireRole(identity.RoleProvider)).Get("/nearby", s.handleNearby)
				ir.With(requireRole(identity.RoleRequester)).Get("/mine", s.handleListMine)
				ir.With(requireRole(identity.RoleProvider)).Get("/with-my-offers", s.handleListWithMyOffers)
				ir.Get("/{issueId}", s.handleGetIssue)
				ir.With(requireRole(identity.RoleProvider)).Post("/{issueId}/offer", s.handleSubmitOffer)
				ir.With(requireRole(identity.RoleRequester)).Post("/{issueId}/accept/{offerId}", s.handleAcceptOffer)
				ir.With(requireRole(identity.RoleRequester)).Post("/{issueId}/reject/{offerId}", s.handleRejectOffer)
			})
		})
	})
	return r
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "unavailable", "store not reachable", nil)
			return
		}
	}
	writeData(w, r, http.StatusOK, "status", "ready")
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		s.logger.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

// authenticate resolves the bearer token into an identity.Actor.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeUnauthenticated(w, r, "missing bearer token")
			return
		}
		actor, err := s.accounts.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeUnauthenticated(w, r, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithActor(r.Context(), actor)))
	})
}

func requireRole(role identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := identity.FromContext(r.Context())
			if err != nil {
				writeUnauthenticated(w, r, err.Error())
				return
			}
			if actor.Role != role {
				writeError(w, r, http.StatusForbidden, "forbidden", "requires role "+string(role), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
