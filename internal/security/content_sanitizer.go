// Package security はユーザー入力の無害化を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はノートのタイトル・本文からHTMLを取り除くインターフェース。
type TextSanitizer interface {
	// Sanitize は既知のHTML要素のタグを除去したプレーンテキストを返す。
	// script, styleの中身は破棄する。タグとして解釈できない < や & は入力のまま残す。
	Sanitize(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
// Policyはスレッドセーフで、複数のゴルーチンから共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLを除去したテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if !strings.Contains(raw, "<") {
		return raw
	}
	// タグ以外の < と全ての & を先にエスケープしておき、StrictPolicyの出力を戻したときに入力の文字列と一致させる
	return html.UnescapeString(s.policy.Sanitize(escapeNonMarkup(raw)))
}

// escapeNonMarkup は既知のHTML要素のタグとコメント以外の < を &lt; に、全ての & を &amp; に置き換える。
func escapeNonMarkup(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 16)
	for i := 0; i < len(raw); i++ {
		switch c := raw[i]; c {
		case '&':
			b.WriteString("&amp;")
		case '<':
			if startsMarkup(raw[i+1:]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&lt;")
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// startsMarkup は < の直後の文字列がタグまたはコメントの開始かを判定する。
// 要素名が既知で、その後に空白・/・> が続き、閉じの > が存在する場合のみタグとみなす。
func startsMarkup(rest string) bool {
	if strings.HasPrefix(rest, "!--") {
		return strings.Contains(rest[3:], "-->")
	}
	rest = strings.TrimPrefix(rest, "/")

	n := 0
	for n < len(rest) && isASCIIAlnum(rest[n]) {
		n++
	}
	if n == 0 || n == len(rest) {
		return false
	}
	if !htmlElements[strings.ToLower(rest[:n])] {
		return false
	}
	switch rest[n] {
	case ' ', '\t', '\n', '\r', '\f', '/', '>':
	default:
		return false
	}
	return strings.Contains(rest[n:], ">")
}

func isASCIIAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

var htmlElements = map[string]bool{
	"a": true, "abbr": true, "address": true, "area": true, "article": true, "aside": true, "audio": true,
	"b": true, "base": true, "bdi": true, "bdo": true, "blockquote": true, "body": true, "br": true, "button": true,
	"canvas": true, "caption": true, "cite": true, "code": true, "col": true, "colgroup": true,
	"data": true, "datalist": true, "dd": true, "del": true, "details": true, "dfn": true, "dialog": true,
	"div": true, "dl": true, "dt": true, "em": true, "embed": true,
	"fieldset": true, "figcaption": true, "figure": true, "font": true, "footer": true, "form": true, "frame": true, "frameset": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"head": true, "header": true, "hr": true, "html": true,
	"i": true, "iframe": true, "img": true, "input": true, "ins": true, "kbd": true,
	"label": true, "legend": true, "li": true, "link": true, "main": true, "map": true, "mark": true,
	"marquee": true, "math": true, "menu": true, "meta": true, "meter": true, "nav": true, "noscript": true,
	"object": true, "ol": true, "optgroup": true, "option": true, "output": true,
	"p": true, "param": true, "picture": true, "pre": true, "progress": true, "q": true,
	"rp": true, "rt": true, "ruby": true, "s": true, "samp": true, "script": true, "section": true,
	"select": true, "slot": true, "small": true, "source": true, "span": true, "strike": true, "strong": true,
	"style": true, "sub": true, "summary": true, "sup": true, "svg": true,
	"table": true, "tbody": true, "td": true, "template": true, "textarea": true, "tfoot": true, "th": true,
	"thead": true, "time": true, "title": true, "tr": true, "track": true, "tt": true,
	"u": true, "ul": true, "var": true, "video": true, "wbr": true,
}
