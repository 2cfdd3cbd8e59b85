package resolver

import "net/http"

// DefaultUserAgent is a desktop Chrome identity. Video CDNs commonly refuse
// requests that do not look like a browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// BrowserHeaders returns the simulated browser headers sent on redirect
// resolution and proxied uploads.
func BrowserHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "video/webm,video/ogg,video/*;q=0.9,application/ogg;q=0.7,audio/*;q=0.6,*/*;q=0.5")
	h.Set("Accept-Language", "en-US,en;q=0.9,ar;q=0.8")
	h.Set("Referer", "https://www.facebook.com/")
	return h
}
