package server

import (
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/john/multichat/internal/credentials"
	"github.com/john/multichat/internal/message"
)

const stateCookie = "multichat_oauth_state"

var authorizedPage = template.Must(template.New("authorized").Parse(`<!doctype html>
<html><body style="font-family:sans-serif;padding:2em">
<h2>{{.Title}} Authorized!</h2>
<p>Add these to your .env to skip this step next time:</p>
<pre>{{.Prefix}}_ACCESS_TOKEN={{.AccessToken}}
{{.Prefix}}_REFRESH_TOKEN={{.RefreshToken}}</pre>
<p>You can close this tab.</p>
</body></html>
`))

// handleAuth redirects to the platform's authorization page with a fresh state
func (s *Server) handleAuth(store *credentials.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookie,
			Value:    state,
			Path:     "/",
			MaxAge:   int((10 * time.Minute).Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, store.AuthCodeURL(state), http.StatusFound)
	}
}

// callbackCode validates the callback request and returns the code
func (s *Server) callbackCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "Authorization denied: "+e, http.StatusBadRequest)
		return "", false
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return "", false
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return "", false
	}
	return code, true
}

func (s *Server) handleTwitchCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := s.callbackCode(w, r)
	if !ok {
		return
	}

	creds, err := s.deps.Twitch.Exchange(r.Context(), code)
	if err != nil {
		s.log.Error("auth callback failed", "platform", message.Twitch, "error", err)
		http.Error(w, "Auth failed", http.StatusBadGateway)
		return
	}

	if s.deps.LookupLogin != nil {
		login, err := s.deps.LookupLogin(r.Context(), creds.AccessToken)
		if err != nil {
			s.log.Warn("failed to fetch bot username", "error", err)
		}
		creds.Identity = login
	}

	s.authorized(w, message.Twitch, s.deps.Twitch, creds)
}

func (s *Server) handleJoystickCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := s.callbackCode(w, r)
	if !ok {
		return
	}

	creds, err := s.deps.Joystick.Exchange(r.Context(), code, credentials.JoystickRedirect)
	if err != nil {
		s.log.Error("auth callback failed", "platform", message.Joystick, "error", err)
		http.Error(w, "Auth failed", http.StatusBadGateway)
		return
	}

	s.authorized(w, message.Joystick, s.deps.Joystick, creds)
}

// authorized installs creds, restarts the adapter and renders the result page
func (s *Server) authorized(w http.ResponseWriter, platform message.Platform, store *credentials.Store, creds credentials.Credentials) {
	store.Install(creds)
	s.log.Info("authorized", "platform", platform, "identity", creds.Identity)
	s.deps.OnAuthorized(platform)

	title, prefix := "Twitch", "TWITCH"
	if platform == message.Joystick {
		title, prefix = "Joystick", "JOYSTICK"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = authorizedPage.Execute(w, struct {
		Title, Prefix, AccessToken, RefreshToken string
	}{title, prefix, creds.AccessToken, creds.RefreshToken})
}
