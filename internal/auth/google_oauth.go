package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const providerGoogle = "google"

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	Redirect     RedirectPolicy

	// テスト用にオーバーライド可能な値
	Endpoint         oauth2.Endpoint
	UserInfoEndpoint string
	HTTPClient       *http.Client
}

// GoogleOAuthProvider はGoogleの認可コード交換とユーザー情報取得を行う。
type GoogleOAuthProvider struct {
	oauth      *oauth2.Config
	redirect   RedirectPolicy
	verifier   IDTokenVerifier
	userInfo   string
	httpClient *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// verifierはトークンレスポンスに含まれるid_tokenの検証に使う。
func NewGoogleOAuthProvider(cfg GoogleOAuthConfig, verifier IDTokenVerifier) *GoogleOAuthProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		redirect:   cfg.Redirect,
		verifier:   verifier,
		userInfo:   cfg.UserInfoEndpoint,
		httpClient: cfg.HTTPClient,
	}
}

// GetLoginURL はブラウザ向けのGoogle認証URLを生成する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	if r := p.redirect.LoginRedirectURL(); r != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", r))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

// ExchangeCode は認可コードをトークンに交換し、検証済みのIdentityを返す。
// トークンレスポンスにid_tokenがあればそれを検証し、なければuserinfoエンドポイントを使う。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code, requestedRedirect string) (*ExchangeResult, error) {
	redirect, err := p.redirect.Resolve(requestedRedirect)
	if err != nil {
		return nil, err
	}

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	var opts []oauth2.AuthCodeOption
	if redirect != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirect))
	}

	tok, err := p.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	var identity *Identity
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" && p.verifier != nil {
		identity, err = p.verifier.Verify(ctx, raw)
	} else {
		identity, err = p.fetchUserInfo(ctx, tok)
	}
	if err != nil {
		return nil, err
	}

	return &ExchangeResult{Identity: identity, AccessToken: tok.AccessToken}, nil
}

// fetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (*Identity, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))),
	}
	if p.userInfo != "" {
		opts = append(opts, option.WithEndpoint(p.userInfo))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, newError(KindUpstreamUnavailable, "fetch userinfo", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
			return nil, newError(KindInvalidToken, "fetch userinfo", err)
		}
		return nil, newError(KindUpstreamUnavailable, "fetch userinfo", err)
	}
	if info.Id == "" {
		return nil, newError(KindInvalidToken, "fetch userinfo", errors.New("empty id in userinfo response"))
	}

	identity := &Identity{
		Provider: providerGoogle,
		Subject:  info.Id,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
		Locale:   info.Locale,
	}
	if info.VerifiedEmail != nil {
		identity.EmailVerified = *info.VerifiedEmail
	}
	return identity, nil
}

// classifyExchangeError はトークンエンドポイントのエラーをErrorKindに分類する。
// レスポンス本文はログにのみ記録する。
func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return newError(KindUpstreamUnavailable, "exchange code", err)
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	var kind ErrorKind
	switch re.ErrorCode {
	case "invalid_grant":
		kind = KindInvalidGrant
	case "redirect_uri_mismatch":
		kind = KindRedirectMismatch
	case "unauthorized_client", "invalid_client":
		kind = KindUnauthorizedClient
	default:
		switch {
		case status >= 500, status == http.StatusTooManyRequests:
			kind = KindUpstreamUnavailable
		case status == http.StatusUnauthorized:
			kind = KindUnauthorizedClient
		default:
			// invalid_request, unsupported_grant_type など、クライアントの入力では直せない拒否
			kind = KindTokenRequestRejected
		}
	}

	slog.Warn("google token exchange failed",
		slog.Int("status", status),
		slog.String("error_code", re.ErrorCode),
		slog.String("error_description", re.ErrorDescription),
		slog.String("kind", kind.String()),
		slog.String("body", string(re.Body)),
	)
	return newError(kind, "exchange code", fmt.Errorf("token endpoint returned %d %s", status, re.ErrorCode))
}

// compile-time interface check
var _ CodeExchanger = (*GoogleOAuthProvider)(nil)
