package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/notely/internal/model"
)

// SessionClaims はセッショントークンのクレーム。
// sidはsessionsテーブルの行IDに対応する。
type SessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Sid   string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionTokenConfig はセッショントークンの署名設定。
type SessionTokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// SessionTokens はHS256で署名したセッショントークンを発行・検証する。
type SessionTokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens はSessionTokensを生成する。
func NewSessionTokens(cfg SessionTokenConfig) *SessionTokens {
	return &SessionTokens{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

// TTL はトークンの有効期間を返す。
func (t *SessionTokens) TTL() time.Duration { return t.ttl }

// Issue はユーザーとセッションIDに対するトークンを発行する。
func (t *SessionTokens) Issue(user *model.User, sessionID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := SessionClaims{
		Email: user.Email,
		Name:  user.Name,
		Sid:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse は署名・発行者・有効期限を検証してクレームを返す。
// 期限切れはKindSessionExpired、それ以外の不正はKindInvalidSessionの*Errorを返す。
func (t *SessionTokens) Parse(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newError(KindSessionExpired, "parse session token", err)
		}
		return nil, newError(KindInvalidSession, "parse session token", err)
	}
	if claims.Subject == "" || claims.Sid == "" {
		return nil, newError(KindInvalidSession, "parse session token", errors.New("missing sub or sid"))
	}
	return claims, nil
}
