// Package tracking instruments outbound message bodies with an open-tracking
// pixel and click-redirect links. Tokens are opaque; correlation back to a
// send record happens in the store, never by decoding the token.
package tracking

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Instrumenter rewrites message bodies to route opens and clicks through
// the tracking endpoints rooted at BaseURL.
type Instrumenter struct {
	baseURL string
}

// NewInstrumenter creates an instrumenter. baseURL is the externally
// reachable root of the tracking endpoints, no trailing slash.
func NewInstrumenter(baseURL string) *Instrumenter {
	return &Instrumenter{baseURL: strings.TrimRight(baseURL, "/")}
}

// NewToken returns a 32-char hex token from a cryptographically random
// 16-byte source.
func NewToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// rand.Read only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("tracking: entropy unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

// Instrument injects an open-tracking pixel and rewrites every hyperlink to
// redirect through the click endpoint. It returns the instrumented body and
// the generated pixel token. Plain-text bodies without links come back
// unchanged aside from the appended pixel.
func (in *Instrumenter) Instrument(body, sendID string) (string, string) {
	token := NewToken()

	pixel := fmt.Sprintf(`<img src="%s/t/open/%s" width="1" height="1" style="display:none" alt="" />`,
		in.baseURL, token)

	body = in.rewriteLinks(body, sendID)

	if strings.Contains(body, "</body>") {
		body = strings.Replace(body, "</body>", pixel+"</body>", 1)
	} else {
		body += pixel
	}

	return body, token
}

// ClickURL builds the redirect URL for one original link.
func (in *Instrumenter) ClickURL(sendID, originalURL string) string {
	return fmt.Sprintf("%s/t/click/%s?url=%s", in.baseURL, sendID, url.QueryEscape(originalURL))
}

// rewriteLinks replaces every href pointing at an http(s) URL with the
// click-redirect equivalent. Links already routed through the tracking
// endpoints are left alone so re-instrumentation cannot double-wrap.
func (in *Instrumenter) rewriteLinks(body, sendID string) string {
	var b strings.Builder
	b.Grow(len(body))

	for {
		start := strings.Index(body, `href="http`)
		if start == -1 {
			b.WriteString(body)
			break
		}
		start += len(`href="`)

		end := strings.Index(body[start:], `"`)
		if end == -1 {
			b.WriteString(body)
			break
		}

		originalURL := body[start : start+end]
		b.WriteString(body[:start])
		if strings.HasPrefix(originalURL, in.baseURL+"/t/") {
			b.WriteString(originalURL)
		} else {
			b.WriteString(in.ClickURL(sendID, originalURL))
		}
		body = body[start+end:]
	}

	return b.String()
}

// PixelGIF is a 1x1 transparent GIF served on every open-tracking hit.
var PixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// GetIP extracts the client address from proxy headers, falling back to the
// socket address.
func GetIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	ip = r.Header.Get("X-Real-IP")
	if ip != "" {
		return ip
	}
	return strings.Split(r.RemoteAddr, ":")[0]
}

// DetectDevice classifies a user agent as mobile, tablet, or desktop.
func DetectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	return "desktop"
}

var botPatterns = []string{
	"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
	"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
}

// IsBot checks whether the user agent looks like an automated scanner.
// Scanner hits are still journaled; callers use this to annotate events.
func IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, pattern := range botPatterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
