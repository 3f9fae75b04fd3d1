package gate

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"hub/cmd/internal/httpjson"
)

// SourceFunc builds the Source for one request, typically from its
// credentials.
type SourceFunc func(r *http.Request) Source

// Renderer writes the non-content outcomes.
type Renderer interface {
	Loading(w http.ResponseWriter, r *http.Request)
	Redirect(w http.ResponseWriter, r *http.Request, loginPath string)
}

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFrom returns the session stored by Middleware, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware mounts a gate for each request and unmounts it when the
// request ends. Authenticated requests reach next with the session in their
// context; the other outcomes go to renderer.
func Middleware(src SourceFunc, renderer Renderer, opts ...Option) func(http.Handler) http.Handler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g := Mount(r.Context(), src(r), opts...)
			defer g.Unmount()

			waitCtx := r.Context()
			if o.renderBudget > 0 {
				var cancel context.CancelFunc
				waitCtx, cancel = context.WithTimeout(waitCtx, o.renderBudget)
				defer cancel()
			}
			_, _ = g.Wait(waitCtx)

			switch g.Render() {
			case Content:
				next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), g.Session())))
			case Redirect:
				renderer.Redirect(w, r, g.LoginPath())
			default:
				renderer.Loading(w, r)
			}
		})
	}
}

// LoginURL returns loginPath with a next parameter pointing back at r's
// path, when r is a GET for a local path.
func LoginURL(loginPath string, r *http.Request) string {
	if r == nil || r.Method != http.MethodGet {
		return loginPath
	}
	next := r.URL.RequestURI()
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || next == loginPath {
		return loginPath
	}
	sep := "?"
	if strings.Contains(loginPath, "?") {
		sep = "&"
	}
	return loginPath + sep + "next=" + url.QueryEscape(next)
}

// HTMLRenderer serves browser routes: a self-refreshing placeholder while
// loading and a 303 to login otherwise. A redirect response never becomes a
// history entry, so the protected URL cannot be returned to with Back.
type HTMLRenderer struct{}

const loadingPage = `<!doctype html>
<html lang="en"><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Mar Quente Hub</title></head>
<body><p role="status" aria-busy="true">Loading…</p></body></html>
`

func (HTMLRenderer) Loading(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Retry-After", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(loadingPage))
}

func (HTMLRenderer) Redirect(w http.ResponseWriter, r *http.Request, loginPath string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, LoginURL(loginPath, r), http.StatusSeeOther)
}

// APIRenderer serves JSON routes: 503 while loading, 401 when there is no
// session. The 401 body names the login entry point.
type APIRenderer struct{}

func (APIRenderer) Loading(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Retry-After", "1")
	httpjson.WriteErrorBody(w, http.StatusServiceUnavailable, httpjson.Error{
		Code:    "session_pending",
		Message: "session check still in progress",
	})
}

func (APIRenderer) Redirect(w http.ResponseWriter, _ *http.Request, loginPath string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="hub"`)
	httpjson.WriteErrorBody(w, http.StatusUnauthorized, httpjson.Error{
		Code:       "unauthenticated",
		Message:    "no active session",
		RedirectTo: loginPath,
	})
}
