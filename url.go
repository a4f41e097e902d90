package socketio

import (
	"fmt"
	"net/url"
)

// endpointURL turns a user supplied server URL into the Engine.IO
// WebSocket endpoint: http and ws map to ws, https and wss to wss, an empty
// path becomes config.Path, and EIO=4&transport=websocket is added.
func endpointURL(raw string, config *Config) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid scheme %q in url %q", u.Scheme, raw)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("no host in url %q", raw)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = config.Path
	}
	u.Fragment = ""

	query := u.Query()
	for key, values := range config.Query {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	query.Set("EIO", "4")
	query.Set("transport", "websocket")
	u.RawQuery = query.Encode()

	return u, nil
}
