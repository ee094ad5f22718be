package gate

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"carwash/internal/errors"
)

// Paths that never require activation
var defaultExcludePrefixes = []string{
	"/static/",
	"/assets/",
	"/favicon.ico",
}

// Guard is the routing-layer view of an ActivationGate
type Guard struct {
	gate            *ActivationGate
	activationPath  string
	excludePaths    map[string]struct{}
	excludePrefixes []string
	logger          *slog.Logger
}

// RequireActivation returns chi middleware that sends visitors of a non-activated
// installation to activationPath. Requests for activationPath itself and for the
// exclude paths pass through. A trailing "*" in an exclude entry matches a prefix.
func RequireActivation(g *ActivationGate, activationPath string, exclude ...string) func(http.Handler) http.Handler {
	return NewGuard(g, activationPath, exclude...).Handler
}

// NewGuard builds the guard behind RequireActivation
func NewGuard(g *ActivationGate, activationPath string, exclude ...string) *Guard {
	guard := &Guard{
		gate:            g,
		activationPath:  activationPath,
		excludePaths:    map[string]struct{}{activationPath: {}},
		excludePrefixes: append([]string(nil), defaultExcludePrefixes...),
		logger:          g.logger.With(slog.String("component", "activation_guard")),
	}
	for _, p := range exclude {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			guard.excludePrefixes = append(guard.excludePrefixes, prefix)
			continue
		}
		guard.excludePaths[p] = struct{}{}
	}
	return guard
}

// Handler implements the middleware
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("activation-gate").Start(r.Context(), "activation_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		if g.shouldExcludePath(r.URL.Path) {
			span.SetAttributes(attribute.String("activation.check", "excluded"))
			next.ServeHTTP(w, r)
			return
		}

		if g.gate.IsActivatedLocally() {
			span.SetAttributes(attribute.String("activation.check", "activated"))
			next.ServeHTTP(w, r)
			return
		}

		span.SetAttributes(attribute.String("activation.check", "redirected"))
		reqID := middleware.GetReqID(ctx)
		g.logger.InfoContext(ctx, "installation not activated, redirecting",
			slog.String("path", r.URL.Path),
			slog.String("request_id", reqID),
		)

		if isAPIRequest(r) {
			problem := errors.NewProblemDetails(
				http.StatusPreconditionRequired,
				"/errors/device-not-activated",
				"Device Not Activated",
				"Device belum diaktivasi",
				r.URL.Path,
			).WithExtension("redirect_url", g.activationPath)
			if reqID != "" {
				problem = problem.WithExtension("request_id", reqID)
			}
			errors.WriteProblem(w, problem)
			return
		}

		http.Redirect(w, r, g.redirectURL(r), http.StatusTemporaryRedirect)
	})
}

func (g *Guard) shouldExcludePath(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Guard) redirectURL(r *http.Request) string {
	if r.URL.Path == "/" {
		return g.activationPath
	}
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	sep := "?"
	if strings.Contains(g.activationPath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sreturn=%s", g.activationPath, sep, url.QueryEscape(target))
}

func isAPIRequest(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
