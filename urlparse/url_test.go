package urlparse

import (
	"strings"
	"testing"
)

func TestParse_Basic(t *testing.T) {
	u, err := Parse("http://example.test/hello")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Secure {
		t.Errorf("expected insecure scheme")
	}
	if u.Host != "example.test" {
		t.Errorf("expected host example.test, got %q", u.Host)
	}
	if u.Port != "80" {
		t.Errorf("expected default port 80, got %q", u.Port)
	}
	if u.Path != "/hello" {
		t.Errorf("expected path /hello, got %q", u.Path)
	}
}

func TestParse_SecureDefaultPort(t *testing.T) {
	u, err := Parse("https://example.test")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Port != "443" {
		t.Errorf("expected default port 443, got %q", u.Port)
	}
	if u.Path != "/" {
		t.Errorf("expected default path /, got %q", u.Path)
	}
}

func TestParse_ExplicitPort(t *testing.T) {
	u, err := Parse("http://example.test:8080/a/b")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Port != "8080" {
		t.Errorf("expected port 8080, got %q", u.Port)
	}
	if u.Path != "/a/b" {
		t.Errorf("expected path /a/b, got %q", u.Path)
	}
}

func TestParse_ColonAfterSlashIsPath(t *testing.T) {
	u, err := Parse("http://example.test/path:with:colons")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Host != "example.test" {
		t.Errorf("expected host example.test, got %q", u.Host)
	}
	if u.Port != "80" {
		t.Errorf("expected default port, got %q", u.Port)
	}
	if u.Path != "/path:with:colons" {
		t.Errorf("expected colon-bearing path preserved, got %q", u.Path)
	}
}

func TestParse_RejectsUnknownScheme(t *testing.T) {
	if _, err := Parse("ftp://example.test/"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestParse_RejectsOversizedHost(t *testing.T) {
	longHost := strings.Repeat("a", 300) + ".test"
	if _, err := Parse("http://" + longHost + "/"); err == nil {
		t.Fatalf("expected error for oversized host")
	}
}

func TestParse_CopiesPortVerbatim(t *testing.T) {
	// Parse copies whatever follows the colon as-is, without validating it
	// as numeric — transport.Dial is where a non-numeric port actually
	// fails, once it's needed to build a socket address.
	u, err := Parse("http://example.test:abc/")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Port != "abc" {
		t.Errorf("expected port copied verbatim, got %q", u.Port)
	}
}

func TestParse_EmptyPortFallsThroughToDefault(t *testing.T) {
	// A bare trailing colon with nothing after it is treated the same as no
	// colon at all: the scheme's default port applies.
	u, err := Parse("http://example.test:/hello")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Port != "80" {
		t.Errorf("expected default port 80, got %q", u.Port)
	}
	if u.Path != "/hello" {
		t.Errorf("expected path /hello, got %q", u.Path)
	}

	u, err = Parse("https://example.test:/")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Port != "443" {
		t.Errorf("expected default port 443, got %q", u.Port)
	}
}

func TestParse_RejectsOversizedPort(t *testing.T) {
	longPort := strings.Repeat("9", 20)
	if _, err := Parse("http://example.test:" + longPort + "/"); err == nil {
		t.Fatalf("expected error for oversized port")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	cases := []string{
		"http://example.test/hello",
		"https://example.test/hello",
		"http://example.test:8080/a/b",
		"https://example.test:9443/",
		"http://example.test",
	}
	for _, raw := range cases {
		u, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", raw, err)
		}
		rebuilt := u.String()
		u2, err := Parse(rebuilt)
		if err != nil {
			t.Fatalf("Parse(%q) (rebuilt from %q) failed: %v", rebuilt, raw, err)
		}
		if *u2 != *u {
			t.Errorf("round trip mismatch for %q: got %+v via %q, want %+v", raw, u2, rebuilt, u)
		}
	}
}

func TestURL_ResolveLocation_PathOnly(t *testing.T) {
	u, _ := Parse("https://a.test:9443/old")
	resolved, err := u.ResolveLocation("/new/path")
	if err != nil {
		t.Fatalf("ResolveLocation failed: %v", err)
	}
	if !resolved.Secure || resolved.Host != "a.test" || resolved.Port != "9443" || resolved.Path != "/new/path" {
		t.Errorf("unexpected resolved URL: %+v", resolved)
	}
}

func TestURL_ResolveLocation_Absolute(t *testing.T) {
	u, _ := Parse("http://a.test/old")
	resolved, err := u.ResolveLocation("http://b.test/y")
	if err != nil {
		t.Fatalf("ResolveLocation failed: %v", err)
	}
	if resolved.Host != "b.test" || resolved.Path != "/y" {
		t.Errorf("unexpected resolved URL: %+v", resolved)
	}
}
