package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/vanguard/pkg/log"
	"github.com/cuemby/vanguard/pkg/metrics"
)

// principalKey is the context key adminAuth stores the authenticated
// admin username under.
type principalKey struct{}

func principalFrom(ctx context.Context) string {
	v, _ := ctx.Value(principalKey{}).(string)
	return v
}

// adminAuth builds middleware accepting either a bearer JWT (issued by
// POST /auth/login) or HTTP Basic against the configured admin
// credential. No request reaches a handler without one of the two
// succeeding — there is no accept-any-token fallback.
func adminAuth(secret []byte, adminUser, adminPasswordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			switch {
			case strings.HasPrefix(auth, "Bearer "):
				tok := strings.TrimPrefix(auth, "Bearer ")
				c, err := parseToken(secret, tok)
				if err != nil || strings.TrimSpace(c.Subject) == "" {
					writeUnauthorized(w)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, c.Subject)))
				return

			case strings.HasPrefix(auth, "Basic "):
				user, pass, ok := r.BasicAuth()
				if !ok || !checkBasicCredentials(adminUser, adminPasswordHash, user, pass) {
					writeUnauthorized(w)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, user)))
				return

			default:
				writeUnauthorized(w)
				return
			}
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer, Basic realm="vanguard-admin"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
}

// requestLogger emits one structured log line per request, grounded in
// the example corpus's chi RequestLogger middleware but built on this
// repository's own zerolog wrapper (pkg/log) rather than log/slog.
func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("admin request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
