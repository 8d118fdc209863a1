package chat

import (
	"fmt"
	"net/url"
	"strings"
)

// EndpointURL builds the chat socket URL for a channel:
//
//	ws(s)://<host>/ws/chat/<channel>/?token=<token>
//
// http and https base URLs are mapped to ws and wss. The token travels in the
// query string because browsers cannot set headers on the handshake and the
// backend reads it from there.
func EndpointURL(baseURL, channel, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}

	prefix := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + channel + "/"
	u.RawPath = prefix + "/ws/chat/" + url.PathEscape(channel) + "/"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	u.Fragment = ""

	return u.String(), nil
}
