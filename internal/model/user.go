package model

import "time"

// User はサービス利用ユーザーを表す。
// IDはIdPアカウントごとに安定したサブジェクトIDとして全ての所有判定に使用する。
type User struct {
	ID         string
	Email      string
	Name       string
	PictureURL string
	Locale     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// セッショントークン（署名付きJWT）のsidクレームがIDに対応する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// IsActive は指定時刻においてセッションが有効かどうかを返す。
func (s *Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// Principal は認証済みリクエストの主体を表す。
// セッション検証を通過したリクエストのコンテキストに格納される。
type Principal struct {
	UserID    string
	Email     string
	SessionID string
}
