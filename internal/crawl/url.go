package crawl

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// courtDateLayout is the MM/DD/YYYY format both court sites render dates in.
const courtDateLayout = "01/02/2006"

// queryParam extracts one query parameter from a raw URL. Used to parse
// docket and document ids off result links; the id is parsed exactly once at
// discovery time and never re-derived from page content.
func queryParam(rawURL, key string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	v := u.Query().Get(key)
	if v == "" {
		return "", fmt.Errorf("url %q has no %q parameter", rawURL, key)
	}
	return v, nil
}

func parseCourtDate(s string) (time.Time, error) {
	t, err := time.Parse(courtDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// sanitizeKeyPart makes an id safe for use inside a slash-separated sink key.
func sanitizeKeyPart(s string) string {
	return strings.ReplaceAll(strings.Trim(s, "/"), "/", "_")
}
