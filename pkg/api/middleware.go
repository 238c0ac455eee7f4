package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UIDHeader carries the caller identity when a fronting proxy has already
// authenticated the request and no token info endpoint is configured.
const UIDHeader = "X-Uid"

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	userContextKey      contextKey = "user"
	requestIDContextKey contextKey = "requestID"
)

// UserFromContext extracts the authenticated caller identity from the
// request context. ok is false for anonymous requests.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userContextKey).(string)
	return user, ok && user != ""
}

// RequestIDFromContext extracts the request correlation ID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDContextKey).(string)
	return requestID, ok
}

// RequestID reuses the inbound correlation ID or mints a fresh one, and
// mirrors it on the response so callers can quote it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger emits one structured log line per served request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			requestID, _ := RequestIDFromContext(r.Context())
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", wrapped.status,
				"duration", time.Since(start),
				"request_id", requestID,
			)
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Authenticator resolves the caller identity and attaches it to the
// request context. With a token info endpoint configured it introspects
// the bearer token; without one it trusts the X-Uid header set by a
// fronting proxy. Requests that cannot be resolved stay anonymous, the
// access gate decides what anonymous callers may do.
type Authenticator struct {
	tokenInfoURL string
	client       *http.Client
	logger       *slog.Logger
}

// NewAuthenticator creates an identity resolving middleware. An empty
// tokenInfoURL switches to trusting the X-Uid header.
func NewAuthenticator(tokenInfoURL string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		tokenInfoURL: tokenInfoURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// Wrap wraps a handler with identity resolution.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := a.resolveUser(r); user != "" {
			ctx := context.WithValue(r.Context(), userContextKey, user)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) resolveUser(r *http.Request) string {
	if a.tokenInfoURL == "" {
		return r.Header.Get(UIDHeader)
	}

	token := bearerToken(r)
	if token == "" {
		return ""
	}

	user, err := a.introspectToken(r.Context(), token)
	if err != nil {
		a.logger.Debug("Token introspection failed", "error", err)
		return ""
	}
	return user
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// introspectToken asks the token info endpoint who the token belongs to.
func (a *Authenticator) introspectToken(ctx context.Context, token string) (string, error) {
	endpoint := a.tokenInfoURL + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token info returned status %d", resp.StatusCode)
	}

	var info struct {
		UID string `json:"uid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode token info response: %w", err)
	}
	if info.UID == "" {
		return "", fmt.Errorf("token info response carries no uid")
	}
	return info.UID, nil
}

// AccessGate rejects callers that are not on the configured allow-list.
// A nil allow-list admits any authenticated caller; an empty one admits
// nobody. The list is fixed at construction, changing it means building
// a new gate.
type AccessGate struct {
	allowed    map[string]struct{}
	restricted bool
	logger     *slog.Logger
}

// NewAccessGate creates the allow-list middleware.
func NewAccessGate(allowedUsers []string, logger *slog.Logger) *AccessGate {
	if logger == nil {
		logger = slog.Default()
	}

	gate := &AccessGate{logger: logger}
	if allowedUsers != nil {
		gate.restricted = true
		gate.allowed = make(map[string]struct{}, len(allowedUsers))
		for _, user := range allowedUsers {
			gate.allowed[user] = struct{}{}
		}
	}
	return gate
}

// Wrap wraps a handler with the allow-list check. Rejected requests get a
// 403 problem response and the wrapped handler is never invoked.
func (g *AccessGate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			g.logger.Debug("Rejecting anonymous request",
				"path", r.URL.Path, "allowed_users", g.allowedUsers())
			problem(w, http.StatusForbidden, "Forbidden",
				"Anonymous access is not allowed in this endpoint")
			return
		}

		if g.restricted {
			if _, member := g.allowed[user]; !member {
				g.logger.Debug("Rejecting user outside the allow-list",
					"user", user, "path", r.URL.Path, "allowed_users", g.allowedUsers())
				problem(w, http.StatusForbidden, "Forbidden",
					"User is not allowed to access this endpoint")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// allowedUsers renders the allow-list for audit logs. nil means the gate
// admits any authenticated caller.
func (g *AccessGate) allowedUsers() []string {
	if !g.restricted {
		return nil
	}

	users := make([]string, 0, len(g.allowed))
	for user := range g.allowed {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}
