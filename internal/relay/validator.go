package relay

import "strings"

// LinkValidator decides whether a message is worth sending to the backend.
// It is a substring test on purpose; the backend does the real parsing.
type LinkValidator struct {
	marker string
}

func NewLinkValidator(domainMarker string) LinkValidator {
	return LinkValidator{marker: strings.ToLower(strings.TrimSpace(domainMarker))}
}

// Check returns the trimmed text and true when it is non-empty and contains
// the platform domain marker.
func (v LinkValidator) Check(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || v.marker == "" {
		return "", false
	}
	if !strings.Contains(strings.ToLower(text), v.marker) {
		return "", false
	}
	return text, true
}
