package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// Googleが発行するIDトークンのiss。
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Identity はIdPで検証済みのユーザー情報を表す。
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Locale        string
}

// payloadValidator はIDトークンの署名・audience・有効期限を検証する。
// *idtoken.Validatorが満たす。
type payloadValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// GoogleIDTokenVerifier はGoogleのIDトークンをローカルで検証する。
type GoogleIDTokenVerifier struct {
	validator payloadValidator
	clientID  string
}

// NewGoogleIDTokenVerifier はGoogleの公開鍵で検証するGoogleIDTokenVerifierを生成する。
// httpClientは公開鍵の取得に使う。nilの場合はhttp.DefaultClient。
func NewGoogleIDTokenVerifier(ctx context.Context, clientID string, httpClient *http.Client) (*GoogleIDTokenVerifier, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	v, err := idtoken.NewValidator(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create id token validator: %w", err)
	}
	return &GoogleIDTokenVerifier{validator: v, clientID: clientID}, nil
}

// Verify は署名・audience（クライアントID）・有効期限・発行者を検証し、Identityを返す。
func (v *GoogleIDTokenVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	payload, err := v.validator.Validate(ctx, rawToken, v.clientID)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindUpstreamUnavailable, "verify id token", err)
		}
		return nil, newError(KindInvalidToken, "verify id token", err)
	}

	if !isGoogleIssuer(payload.Issuer) {
		return nil, newError(KindInvalidToken, "verify id token",
			fmt.Errorf("unexpected issuer %q", payload.Issuer))
	}
	if payload.Subject == "" {
		return nil, newError(KindInvalidToken, "verify id token", errors.New("empty subject"))
	}

	return &Identity{
		Provider:      providerGoogle,
		Subject:       payload.Subject,
		Email:         claimString(payload.Claims, "email"),
		EmailVerified: claimBool(payload.Claims, "email_verified"),
		Name:          claimString(payload.Claims, "name"),
		Picture:       claimString(payload.Claims, "picture"),
		Locale:        claimString(payload.Claims, "locale"),
	}, nil
}

func isGoogleIssuer(iss string) bool {
	for _, s := range googleIssuers {
		if iss == s {
			return true
		}
	}
	return false
}

func claimString(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// email_verifiedはboolまたは"true"文字列で届く。
func claimBool(claims map[string]interface{}, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
