package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"bizledger/domain"
	"bizledger/internal/ledger"
	"bizledger/internal/metrics"
)

type ctxKey string

const (
	ctxUserID     ctxKey = "userID"
	ctxRole       ctxKey = "role"
	ctxBusinessID ctxKey = "businessID"
)

const (
	RoleOwner    = "owner"
	RoleEmployee = "employee"
)

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db     *sqlx.DB
	store  *ledger.Store
	secret string
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Handler.
func New(db *sqlx.DB, secret string, logger zerolog.Logger) *Handler {
	return &Handler{
		db:     db,
		store:  ledger.NewStore(db),
		secret: secret,
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.login)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/sales", func(r chi.Router) {
			r.Post("/", h.createSale)
			r.Get("/{localID}", h.getSale)
			r.Post("/{id}/items", h.addSaleItems)
		})

		pr.Route("/debts", func(r chi.Router) {
			r.Post("/", h.createDebt)
			r.Get("/", h.listDebts)
			r.Get("/{id}", h.getDebt)
			r.Post("/{id}/payments", h.applyPayment)
			r.Get("/{id}/payments", h.listPayments)
		})

		pr.Route("/reports", func(r chi.Router) {
			r.Get("/sales/daily", h.dailySales)
			r.Get("/sales/monthly", h.monthlySales)
			r.Get("/sales", h.salesReport)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Authentication helpers

type authClaims struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	BusinessID string `json:"business_id"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(user domain.User) (string, error) {
	now := h.now()
	claims := authClaims{
		UserID:     user.ID,
		Role:       user.Role,
		BusinessID: user.BusinessID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok || claims.BusinessID == "" {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		ctx = context.WithValue(ctx, ctxBusinessID, claims.BusinessID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	role := r.Context().Value(ctxRole)
	if role == nil {
		respondError(w, http.StatusUnauthorized, "missing role")
		return false
	}
	current := role.(string)
	for _, allowedRole := range allowed {
		if current == allowedRole {
			return true
		}
	}
	respondError(w, http.StatusForbidden, "insufficient permissions")
	return false
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

func businessID(r *http.Request) string {
	id, _ := r.Context().Value(ctxBusinessID).(string)
	return id
}

// Auth Handlers

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user domain.User
	err := h.db.GetContext(r.Context(), &user,
		`SELECT id, username, email, password, role, business_id, created_at FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.generateToken(user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

// Helpers

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	ID    string `json:"id,omitempty"`
}

// respondLedgerError maps ledger sentinels to status codes and wire codes.
// id is the existing record for duplicate inserts.
func (h *Handler) respondLedgerError(w http.ResponseWriter, r *http.Request, err error, id string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrDuplicateSale), errors.Is(err, ledger.ErrDuplicateDebt),
		errors.Is(err, ledger.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrSaleNotFound), errors.Is(err, ledger.ErrDebtNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrOverpayment), errors.Is(err, ledger.ErrBalanceMismatch),
		errors.Is(err, ledger.ErrDebtClosed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidInput):
		status = http.StatusBadRequest
	}

	body := errorBody{Error: err.Error(), Code: ledger.CodeFor(err), ID: id}
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("ledger operation failed")
		body.Error = "internal error"
	}
	respondJSON(w, status, body)
}
