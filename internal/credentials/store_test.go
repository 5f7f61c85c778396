package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/john/multichat/internal/message"
)

func tokenServer(t *testing.T, status int, body string, inspect func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStore(srv *httptest.Server, style oauth2.AuthStyle, initial Credentials) *Store {
	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: style},
	}
	return New(message.Twitch, cfg, initial, WithHTTPClient(srv.Client()))
}

func TestRefresh_ReplacesBothTokens(t *testing.T) {
	req := require.New(t)
	srv := tokenServer(t, http.StatusOK,
		`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"bearer","expires_in":3600}`,
		func(r *http.Request) {
			req.Equal("refresh_token", r.PostForm.Get("grant_type"))
			req.Equal("old-refresh", r.PostForm.Get("refresh_token"))
			req.Equal("client", r.PostForm.Get("client_id"))
			req.Equal("secret", r.PostForm.Get("client_secret"))
		})

	store := newStore(srv, oauth2.AuthStyleInParams, Credentials{AccessToken: "old-access", RefreshToken: "old-refresh", Identity: "bot"})

	req.NoError(store.Refresh(context.Background()))
	req.Equal(Credentials{AccessToken: "new-access", RefreshToken: "new-refresh", Identity: "bot"}, store.Snapshot())
}

func TestRefresh_BasicAuthStyle(t *testing.T) {
	req := require.New(t)
	srv := tokenServer(t, http.StatusOK, `{"access_token":"a2","refresh_token":"r2","token_type":"bearer"}`,
		func(r *http.Request) {
			user, pass, ok := r.BasicAuth()
			req.True(ok)
			req.Equal("client", user)
			req.Equal("secret", pass)
		})

	store := newStore(srv, oauth2.AuthStyleInHeader, Credentials{AccessToken: "a1", RefreshToken: "r1"})
	req.NoError(store.Refresh(context.Background()))
	req.Equal("a2", store.Snapshot().AccessToken)
}

func TestRefresh_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	req := require.New(t)
	srv := tokenServer(t, http.StatusOK, `{"access_token":"a2","token_type":"bearer"}`, nil)

	store := newStore(srv, oauth2.AuthStyleInParams, Credentials{AccessToken: "a1", RefreshToken: "r1"})
	req.NoError(store.Refresh(context.Background()))
	req.Equal(Credentials{AccessToken: "a2", RefreshToken: "r1"}, store.Snapshot())
}

func TestRefresh_MissingAccessTokenLeavesStoreUntouched(t *testing.T) {
	req := require.New(t)
	srv := tokenServer(t, http.StatusOK, `{"refresh_token":"would-be-new","token_type":"bearer"}`, nil)

	before := Credentials{AccessToken: "a1", RefreshToken: "r1", Identity: "bot"}
	store := newStore(srv, oauth2.AuthStyleInParams, before)

	req.Error(store.Refresh(context.Background()))
	req.Equal(before, store.Snapshot())
}

func TestRefresh_Non2xxLeavesStoreUntouched(t *testing.T) {
	req := require.New(t)
	srv := tokenServer(t, http.StatusBadRequest, `{"status":400,"message":"Invalid refresh token"}`, nil)

	before := Credentials{AccessToken: "a1", RefreshToken: "r1"}
	store := newStore(srv, oauth2.AuthStyleInParams, before)

	err := store.Refresh(context.Background())
	req.Error(err)

	var retrieveErr *oauth2.RetrieveError
	req.ErrorAs(err, &retrieveErr)
	req.Equal(before, store.Snapshot())
}

func TestRefresh_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	req := require.New(t)
	var hits atomic.Int32
	srv := tokenServer(t, http.StatusInternalServerError, `{"message":"upstream down"}`,
		func(r *http.Request) { hits.Add(1) })

	before := Credentials{AccessToken: "a1", RefreshToken: "r1"}
	store := newStore(srv, oauth2.AuthStyleInParams, before)

	for i := 0; i < 5; i++ {
		err := store.Refresh(context.Background())
		req.Error(err)
		req.NotErrorIs(err, gobreaker.ErrOpenState)
	}
	req.Equal(int32(5), hits.Load())

	req.ErrorIs(store.Refresh(context.Background()), gobreaker.ErrOpenState)
	req.Equal(int32(5), hits.Load())
	req.Equal(before, store.Snapshot())
}

func TestRefresh_DiscardsResultWhenInstallRacesIn(t *testing.T) {
	req := require.New(t)
	authorized := Credentials{AccessToken: "fresh-access", RefreshToken: "fresh-refresh", Identity: "newbot"}

	var store *Store
	srv := tokenServer(t, http.StatusOK,
		`{"access_token":"derived-access","refresh_token":"derived-refresh","token_type":"bearer"}`,
		func(r *http.Request) { store.Install(authorized) })

	store = newStore(srv, oauth2.AuthStyleInParams, Credentials{AccessToken: "old-access", RefreshToken: "old-refresh"})

	req.NoError(store.Refresh(context.Background()))
	req.Equal(authorized, store.Snapshot())
}

func TestRefresh_WithoutRefreshToken(t *testing.T) {
	req := require.New(t)
	store := New(message.Joystick, &oauth2.Config{}, Credentials{AccessToken: "a1"})

	req.ErrorIs(store.Refresh(context.Background()), ErrNoRefreshToken)
	req.Equal("a1", store.Snapshot().AccessToken)
}

func TestStore_InstallAndIdentity(t *testing.T) {
	req := require.New(t)
	store := New(message.Twitch, &oauth2.Config{}, Credentials{})
	req.False(store.HasToken())

	store.Install(Credentials{AccessToken: "a", RefreshToken: "r"})
	store.SetIdentity("mybot")

	req.True(store.HasToken())
	req.Equal(Credentials{AccessToken: "a", RefreshToken: "r", Identity: "mybot"}, store.Snapshot())
	req.Equal(message.Twitch, store.Platform())
}

func TestExchange_ReturnsTokenPair(t *testing.T) {
	req := require.New(t)
	srv := tokenServer(t, http.StatusOK, `{"access_token":"a","refresh_token":"r","token_type":"bearer"}`,
		func(r *http.Request) {
			req.Equal("authorization_code", r.PostForm.Get("grant_type"))
			req.Equal("the-code", r.PostForm.Get("code"))
			req.Equal("unused", r.PostForm.Get("redirect_uri"))
		})

	store := newStore(srv, oauth2.AuthStyleInHeader, Credentials{})
	creds, err := store.Exchange(context.Background(), "the-code", JoystickRedirect)
	req.NoError(err)
	req.Equal(Credentials{AccessToken: "a", RefreshToken: "r"}, creds)
	req.False(store.HasToken())
}
