// Package devices derives coarse device fingerprints from login
// request metadata. The attributes are deliberately low-resolution:
// browser family, OS family, and device class, never full UA strings
// or version numbers, so a browser update doesn't register as a new
// device.
package devices

import (
	"strings"

	"github.com/orecrest/authcore/internal/models"
)

// Browser families, most specific token first. Chrome ships "Safari"
// in its UA and Edge ships both, so order matters.
var browserTokens = []struct {
	token  string
	family string
}{
	{"edg/", "Edge"},
	{"edge/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"firefox/", "Firefox"},
	{"chrome/", "Chrome"},
	{"crios/", "Chrome"},
	{"safari/", "Safari"},
}

var osTokens = []struct {
	token  string
	family string
}{
	{"windows", "Windows"},
	{"android", "Android"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"ipod", "iOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

const unknown = "Unknown"

// NewFingerprint builds the trust-comparison fingerprint for a login
// attempt from its User-Agent header and resolved client IP.
func NewFingerprint(userAgent, ipAddress string) models.Fingerprint {
	browser, os, class := parseUserAgent(userAgent)
	return models.Fingerprint{
		Browser:     browser,
		OS:          os,
		DeviceClass: class,
		IPAddress:   ipAddress,
	}
}

func parseUserAgent(userAgent string) (browser, os, class string) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return unknown, unknown, unknown
	}

	browser = unknown
	for _, candidate := range browserTokens {
		if strings.Contains(ua, candidate.token) {
			browser = candidate.family
			break
		}
	}

	os = unknown
	for _, candidate := range osTokens {
		if strings.Contains(ua, candidate.token) {
			os = candidate.family
			break
		}
	}

	class = deviceClass(ua, os)
	return browser, os, class
}

func deviceClass(ua, os string) string {
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || os == "iOS" || os == "Android":
		return "mobile"
	case os == unknown:
		return unknown
	default:
		return "desktop"
	}
}
