// Package urlparse implements the minimal URL grammar this HTTP client
// understands: "http(s)://host[:port]/path". It deliberately does not
// percent-decode, does not split userinfo, and does not dissect query or
// fragment — whatever follows the host/port lands verbatim in Path.
package urlparse

import (
	"strings"

	httperrors "github.com/quillhttp/httpcore/errors"
)

const (
	// maxHostLen and maxPortLen mirror the fixed-size buffers of the
	// original implementation; exceeding either is a parse failure rather
	// than silent truncation.
	maxHostLen = 255
	maxPortLen = 7

	defaultHTTPPort  = "80"
	defaultHTTPSPort = "443"
)

// URL is the parsed, immutable form produced by Parse.
type URL struct {
	Secure bool
	Host   string
	Port   string
	Path   string
}

// Parse accepts an ASCII string starting with "http://" or "https://" and
// produces its scheme/host/port/path. Anything else is a parse failure.
func Parse(raw string) (*URL, error) {
	secure, rest, err := splitScheme(raw)
	if err != nil {
		return nil, err
	}
	if rest == "" {
		return nil, invalidURL("missing host")
	}

	slashIdx := strings.IndexByte(rest, '/')
	colonIdx := strings.IndexByte(rest, ':')

	hostEnd := len(rest)
	if slashIdx >= 0 && slashIdx < hostEnd {
		hostEnd = slashIdx
	}
	// A ':' only terminates the host if it appears at or before the first
	// '/' — one that shows up later is part of the path, not a port
	// separator.
	if colonIdx >= 0 && colonIdx < hostEnd {
		hostEnd = colonIdx
	}

	host := rest[:hostEnd]
	if host == "" {
		return nil, invalidURL("missing host")
	}
	if len(host) > maxHostLen {
		return nil, invalidURL("host exceeds maximum length")
	}

	remainder := rest[hostEnd:]

	port := ""
	if strings.HasPrefix(remainder, ":") {
		remainder = remainder[1:]
		portEnd := strings.IndexByte(remainder, '/')
		if portEnd < 0 {
			port = remainder
			remainder = ""
		} else {
			port = remainder[:portEnd]
			remainder = remainder[portEnd:]
		}
		if len(port) > maxPortLen {
			return nil, invalidURL("port exceeds maximum length")
		}
	}
	if port == "" {
		if secure {
			port = defaultHTTPSPort
		} else {
			port = defaultHTTPPort
		}
	}

	path := remainder
	if path == "" {
		path = "/"
	}

	return &URL{Secure: secure, Host: host, Port: port, Path: path}, nil
}

func splitScheme(raw string) (secure bool, rest string, err error) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return true, raw[len("https://"):], nil
	case strings.HasPrefix(raw, "http://"):
		return false, raw[len("http://"):], nil
	default:
		return false, "", invalidURL("unsupported or missing scheme")
	}
}

func invalidURL(message string) error {
	return httperrors.NewKindError(httperrors.KindURLInvalid, message, nil)
}

// IsDefaultPort reports whether Port equals the scheme's implicit default,
// i.e. whether it's safe to omit when rendering the URL back to text.
func (u *URL) IsDefaultPort() bool {
	if u.Secure {
		return u.Port == defaultHTTPSPort
	}
	return u.Port == defaultHTTPPort
}

// String rebuilds "scheme://host[:port]path", omitting the port when it is
// the scheme default. This is the left-inverse the testable properties in
// the spec require: parsing the result again yields an equivalent URL.
func (u *URL) String() string {
	scheme := "http://"
	if u.Secure {
		scheme = "https://"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(u.Host)
	if !u.IsDefaultPort() {
		b.WriteByte(':')
		b.WriteString(u.Port)
	}
	b.WriteString(u.Path)
	return b.String()
}

// ResolveLocation resolves a redirect's Location header against this URL
// per spec §4.5: a path-only location (starting with "/") keeps this URL's
// scheme/host/port; anything else is treated as absolute.
func (u *URL) ResolveLocation(location string) (*URL, error) {
	if strings.HasPrefix(location, "/") {
		scheme := "http://"
		if u.Secure {
			scheme = "https://"
		}
		var b strings.Builder
		b.WriteString(scheme)
		b.WriteString(u.Host)
		if !u.IsDefaultPort() {
			b.WriteByte(':')
			b.WriteString(u.Port)
		}
		b.WriteString(location)
		return Parse(b.String())
	}
	return Parse(location)
}
