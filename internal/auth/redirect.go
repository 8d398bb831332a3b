package auth

import (
	"fmt"
	"slices"

	"github.com/hitoshi/notely/internal/config"
)

// OOBRedirectURL はインストール型アプリで使うout-of-bandリダイレクトの識別子。
const OOBRedirectURL = "urn:ietf:wg:oauth:2.0:oob"

// RedirectPolicy はトークン交換時に送るredirect_uriを決める。
// 認可コード発行時と同じ値でなければGoogleはredirect_uri_mismatchを返す。
type RedirectPolicy struct {
	Mode        string
	RedirectURL string
	Allowed     []string
}

// Resolve はリクエストで指定されたredirectUriを考慮して送信するredirect_uriを返す。
// 空文字はredirect_uriを送らないことを意味する。
//
//   - serverAuthCode: 常に送らない。リクエストでの指定は不一致として扱う。
//   - installedApp: OOB識別子を送る。
//   - webRedirect: 設定値。リクエストの指定は設定値か許可リストに一致する場合のみ採用する。
func (p RedirectPolicy) Resolve(requested string) (string, error) {
	switch p.Mode {
	case config.RedirectModeServerAuthCode, "":
		if requested != "" {
			return "", newError(KindRedirectMismatch, "resolve redirect",
				fmt.Errorf("redirect_uri %q is not used in serverAuthCode mode", requested))
		}
		return "", nil
	case config.RedirectModeInstalledApp:
		if requested != "" && requested != OOBRedirectURL {
			return "", newError(KindRedirectMismatch, "resolve redirect",
				fmt.Errorf("redirect_uri %q does not match installedApp convention", requested))
		}
		return OOBRedirectURL, nil
	case config.RedirectModeWebRedirect:
		if requested == "" || requested == p.RedirectURL {
			return p.RedirectURL, nil
		}
		if slices.Contains(p.Allowed, requested) {
			return requested, nil
		}
		return "", newError(KindRedirectMismatch, "resolve redirect",
			fmt.Errorf("redirect_uri %q is not in the allow list", requested))
	default:
		return "", fmt.Errorf("unknown redirect mode %q", p.Mode)
	}
}

// LoginRedirectURL はブラウザ向けログインURLに載せるredirect_uriを返す。
func (p RedirectPolicy) LoginRedirectURL() string {
	switch p.Mode {
	case config.RedirectModeWebRedirect:
		return p.RedirectURL
	case config.RedirectModeInstalledApp:
		return OOBRedirectURL
	default:
		return ""
	}
}
