package dashboard

import (
	"html/template"
	"net/http"
	"strings"
)

var shellTmpl = template.Must(template.New("shell").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Mar Quente Hub</title>
</head>
<body data-user="{{.UserID}}">
<header><h1>Mar Quente Hub</h1></header>
<main id="dashboard" data-board="/api/board" data-overview="/api/stats/overview"
  data-categories="/api/stats/categories" data-workload="/api/stats/workload"
  data-session-stream="{{.StreamPath}}"></main>
</body>
</html>
`))

type shellData struct {
	UserID     string
	StreamPath string
}

// shell renders the dashboard frame; the widgets load from the JSON API.
func (h *Handler) shell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := shellTmpl.Execute(w, shellData{UserID: userID(r), StreamPath: "/ws/session"}); err != nil {
		h.log.Error("dashboard.shell.render_fail", "err", err)
	}
}

var loginTmpl = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sign in - Mar Quente Hub</title>
</head>
<body>
<form id="login" data-next="{{.Next}}">
<label>Email <input name="email" type="email" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
<script>
document.getElementById("login").addEventListener("submit", async (ev) => {
  ev.preventDefault();
  const f = ev.target;
  const res = await fetch("/auth/login", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({email: f.email.value, password: f.password.value, platform: "web"}),
  });
  if (res.ok) location.replace(f.dataset.next);
});
</script>
</body>
</html>
`))

// login renders the sign-in entry point the gate redirects to. next only
// ever points back into this site.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := loginTmpl.Execute(w, struct{ Next string }{Next: localPath(r.URL.Query().Get("next"))}); err != nil {
		h.log.Error("dashboard.login.render_fail", "err", err)
	}
}

func localPath(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return "/dashboard"
	}
	return next
}
