package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"academy-attendance/internal/model"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware tags every request with an id and logs it once served.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		}
		logger.Log(r.Context(), level, "request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// Claims is the bearer token payload issued by the identity provider.
type Claims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

type principalKey struct{}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(principalKey{}).(*Claims)
	return c, ok
}

// Auth verifies HS256 bearer tokens.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

var errMissingToken = errors.New("missing bearer token")

func (a *Auth) parse(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user_id")
	}
	return claims, nil
}

func (a *Auth) require(allowed func(model.Role) bool, deniedMsg string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parse(r)
		if errors.Is(err, errMissingToken) {
			writeError(w, r, http.StatusUnauthorized, "auth.err.missing_token", nil)
			return
		}
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "auth.err.invalid_token", nil)
			return
		}
		if !allowed(claims.Role) {
			writeError(w, r, http.StatusForbidden, deniedMsg, nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, claims)))
	})
}

// RequireEmployee admits staff, instructors and admins.
func (a *Auth) RequireEmployee(next http.HandlerFunc) http.Handler {
	return a.require(model.Role.EmployeeLike, "attendance.err.forbidden_role", next)
}

func (a *Auth) RequireAdmin(next http.HandlerFunc) http.Handler {
	return a.require(func(r model.Role) bool { return r == model.RoleAdmin }, "auth.err.admin_only", next)
}
