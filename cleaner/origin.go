package cleaner

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoOrigin is returned for URLs that carry no host.
var ErrNoOrigin = errors.New("cleaner: url has no origin")

// DeriveOrigin returns the rule key of pageURL. In origin mode it is
// scheme://host[:port] with default ports dropped; in hostname mode it is
// the bare host name. A bare host is read as https.
func DeriveOrigin(pageURL, mode string) (string, error) {
	if !strings.Contains(pageURL, "://") {
		pageURL = "https://" + pageURL
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("cleaner: parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q", ErrNoOrigin, pageURL)
	}
	if mode == OriginModeHostname {
		return host, nil
	}

	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	origin := scheme + "://" + host
	if port != "" {
		origin += ":" + port
	}
	return origin, nil
}
