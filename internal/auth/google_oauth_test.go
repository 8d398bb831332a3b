package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/hitoshi/notely/internal/config"
)

type mockIDTokenVerifier struct {
	verifyFn func(ctx context.Context, raw string) (*Identity, error)
}

func (m *mockIDTokenVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, raw)
	}
	return nil, nil
}

// googleStub はトークンエンドポイントとuserinfoエンドポイントを模したテストサーバー。
type googleStub struct {
	srv        *httptest.Server
	lastForm   url.Values
	tokenFn    func(w http.ResponseWriter, form url.Values)
	userinfoFn func(w http.ResponseWriter, r *http.Request)
}

func newGoogleStub(t *testing.T) *googleStub {
	t.Helper()
	s := &googleStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		s.lastForm = r.PostForm
		s.tokenFn(w, r.PostForm)
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		s.userinfoFn(w, r)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *googleStub) provider(policy RedirectPolicy, verifier IDTokenVerifier) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Redirect:     policy,
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.srv.URL + "/auth",
			TokenURL:  s.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoEndpoint: s.srv.URL + "/",
		HTTPClient:       s.srv.Client(),
	}, verifier)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestExchangeCode_UsesIDTokenFromResponse(t *testing.T) {
	stub := newGoogleStub(t)
	stub.tokenFn = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "raw-id-token",
		})
	}
	stub.userinfoFn = func(w http.ResponseWriter, _ *http.Request) {
		t.Error("userinfo should not be called when id_token is present")
	}

	var verified string
	verifier := &mockIDTokenVerifier{verifyFn: func(_ context.Context, raw string) (*Identity, error) {
		verified = raw
		return &Identity{Provider: "google", Subject: "sub-1", Email: "a@example.com"}, nil
	}}

	p := stub.provider(RedirectPolicy{Mode: config.RedirectModeServerAuthCode}, verifier)
	res, err := p.ExchangeCode(context.Background(), "auth-code", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verified != "raw-id-token" {
		t.Errorf("verified token = %q, want raw-id-token", verified)
	}
	if res.Identity.Subject != "sub-1" || res.AccessToken != "access-1" {
		t.Errorf("unexpected result: %+v", res)
	}

	if stub.lastForm.Get("code") != "auth-code" {
		t.Errorf("code = %q, want auth-code", stub.lastForm.Get("code"))
	}
	if stub.lastForm.Get("client_id") != "client-id" || stub.lastForm.Get("client_secret") != "client-secret" {
		t.Errorf("client credentials not sent in params: %v", stub.lastForm)
	}
	if _, ok := stub.lastForm["redirect_uri"]; ok {
		t.Errorf("serverAuthCode mode should not send redirect_uri, got %q", stub.lastForm.Get("redirect_uri"))
	}
}

func TestExchangeCode_RedirectConventions(t *testing.T) {
	tests := []struct {
		name   string
		policy RedirectPolicy
		want   string
	}{
		{"installedApp", RedirectPolicy{Mode: config.RedirectModeInstalledApp}, OOBRedirectURL},
		{"webRedirect", RedirectPolicy{Mode: config.RedirectModeWebRedirect, RedirectURL: "https://notes.example.com/cb"}, "https://notes.example.com/cb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newGoogleStub(t)
			stub.tokenFn = func(w http.ResponseWriter, _ url.Values) {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"access_token": "a", "token_type": "Bearer", "id_token": "raw",
				})
			}
			verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
				return &Identity{Provider: "google", Subject: "s"}, nil
			}}

			if _, err := stub.provider(tt.policy, verifier).ExchangeCode(context.Background(), "c", ""); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := stub.lastForm.Get("redirect_uri"); got != tt.want {
				t.Errorf("redirect_uri = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExchangeCode_RedirectMismatchSkipsGoogle(t *testing.T) {
	stub := newGoogleStub(t)
	stub.tokenFn = func(w http.ResponseWriter, _ url.Values) {
		t.Error("token endpoint should not be called")
	}

	p := stub.provider(RedirectPolicy{Mode: config.RedirectModeWebRedirect, RedirectURL: "https://a.example.com/cb"}, nil)
	_, err := p.ExchangeCode(context.Background(), "c", "https://evil.example.com/cb")
	if KindOf(err) != KindRedirectMismatch {
		t.Errorf("err = %v, want kind %v", err, KindRedirectMismatch)
	}
}

func TestExchangeCode_FallsBackToUserInfo(t *testing.T) {
	stub := newGoogleStub(t)
	stub.tokenFn = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "access-2", "token_type": "Bearer", "expires_in": 3600,
		})
	}
	stub.userinfoFn = func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer access-2" {
			t.Errorf("Authorization = %q, want Bearer access-2", got)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":             "google-42",
			"email":          "bob@example.com",
			"verified_email": true,
			"name":           "Bob",
			"picture":        "https://example.com/b.png",
			"locale":         "en",
		})
	}

	p := stub.provider(RedirectPolicy{Mode: config.RedirectModeServerAuthCode}, &mockIDTokenVerifier{})
	res, err := p.ExchangeCode(context.Background(), "auth-code", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := res.Identity
	if id.Subject != "google-42" || id.Email != "bob@example.com" || !id.EmailVerified || id.Name != "Bob" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestExchangeCode_UserInfoUnauthorized(t *testing.T) {
	stub := newGoogleStub(t)
	stub.tokenFn = func(w http.ResponseWriter, _ url.Values) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "a", "token_type": "Bearer"})
	}
	stub.userinfoFn = func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": map[string]interface{}{"code": 401, "message": "Invalid Credentials"},
		})
	}

	p := stub.provider(RedirectPolicy{Mode: config.RedirectModeServerAuthCode}, nil)
	_, err := p.ExchangeCode(context.Background(), "c", "")
	if KindOf(err) != KindInvalidToken {
		t.Errorf("err = %v, want kind %v", err, KindInvalidToken)
	}
}

func TestExchangeCode_TokenEndpointErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantKind    ErrorKind
	}{
		{"used code", http.StatusBadRequest, "application/json", `{"error":"invalid_grant","error_description":"Bad Request"}`, KindInvalidGrant},
		{"redirect mismatch", http.StatusBadRequest, "application/json", `{"error":"redirect_uri_mismatch"}`, KindRedirectMismatch},
		{"bad client", http.StatusUnauthorized, "application/json", `{"error":"invalid_client","error_description":"Unauthorized"}`, KindUnauthorizedClient},
		{"unauthorized client", http.StatusBadRequest, "application/json", `{"error":"unauthorized_client"}`, KindUnauthorizedClient},
		{"server error", http.StatusServiceUnavailable, "text/html", `<html>down</html>`, KindUpstreamUnavailable},
		{"rate limited", http.StatusTooManyRequests, "application/json", `{"error":"rate_limit_exceeded"}`, KindUpstreamUnavailable},
		{"invalid request", http.StatusBadRequest, "application/json", `{"error":"invalid_request"}`, KindTokenRequestRejected},
		{"unsupported grant type", http.StatusBadRequest, "application/json", `{"error":"unsupported_grant_type"}`, KindTokenRequestRejected},
		{"4xx without error code", http.StatusForbidden, "text/plain", `forbidden`, KindTokenRequestRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newGoogleStub(t)
			stub.tokenFn = func(w http.ResponseWriter, _ url.Values) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}

			p := stub.provider(RedirectPolicy{Mode: config.RedirectModeServerAuthCode}, nil)
			_, err := p.ExchangeCode(context.Background(), "expired123", "")
			if KindOf(err) != tt.wantKind {
				t.Errorf("err = %v, want kind %v", err, tt.wantKind)
			}
		})
	}
}

func TestExchangeCode_NetworkFailureIsUpstream(t *testing.T) {
	stub := newGoogleStub(t)
	p := stub.provider(RedirectPolicy{Mode: config.RedirectModeServerAuthCode}, nil)
	stub.srv.Close()

	_, err := p.ExchangeCode(context.Background(), "c", "")
	if KindOf(err) != KindUpstreamUnavailable {
		t.Errorf("err = %v, want kind %v", err, KindUpstreamUnavailable)
	}
}

func TestGetLoginURL_IncludesStateAndRedirect(t *testing.T) {
	stub := newGoogleStub(t)
	p := stub.provider(RedirectPolicy{Mode: config.RedirectModeWebRedirect, RedirectURL: "https://notes.example.com/cb"}, nil)

	u, err := url.Parse(p.GetLoginURL("state-xyz"))
	if err != nil {
		t.Fatalf("invalid login URL: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-xyz" {
		t.Errorf("state = %q, want state-xyz", q.Get("state"))
	}
	if q.Get("redirect_uri") != "https://notes.example.com/cb" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if !strings.Contains(q.Get("scope"), "openid") {
		t.Errorf("scope = %q, want openid", q.Get("scope"))
	}
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q, want client-id", q.Get("client_id"))
	}
}
