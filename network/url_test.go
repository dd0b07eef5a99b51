package network

import (
	"testing"
)

func TestResolveURL(t *testing.T) {
	const page = "https://app.example/pages/index.html"
	tests := []struct {
		name    string
		base    string
		ref     string
		want    string
		wantErr bool
	}{
		{"worker script next to page", page, "sw.js", "https://app.example/pages/sw.js", false},
		{"worker script at root", page, "/sw.js", "https://app.example/sw.js", false},
		{"parent directory", page, "../popup.html", "https://app.example/popup.html", false},
		{"other origin", page, "https://child.example/", "https://child.example/", false},
		{"scheme relative", page, "//cdn.example/lib.js", "https://cdn.example/lib.js", false},
		{"query only", page, "?tab=2", "https://app.example/pages/index.html?tab=2", false},
		{"fragment only", page, "#frame", "https://app.example/pages/index.html#frame", false},
		{"about blank kept", page, "about:blank", "about:blank", false},
		{"data script kept", page, "data:text/javascript,1", "data:text/javascript,1", false},
		{"empty reference", page, "", page, false},
		{"relative base", "/pages/index.html", "sw.js", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL(tt.base, tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveURL(%q, %q) = %q, want error", tt.base, tt.ref, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveURL(%q, %q) failed: %v", tt.base, tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("ResolveURL(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
			}
		})
	}
}

func TestSerializeOrigin(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"http://example.com/path", "http://example.com", false},
		{"https://example.com:8080/path", "https://example.com:8080", false},
		{"https://Example.COM:443/", "https://example.com", false},
		{"http://example.com:80", "http://example.com", false},
		{"wss://chat.example:443/socket", "wss://chat.example", false},
		{"https://bücher.example/", "https://xn--bcher-kva.example", false},
		{"http://[::1]:8080/", "http://[::1]:8080", false},
		{"http://[::1]/", "http://[::1]", false},
		{"http://127.0.0.1:3000/x", "http://127.0.0.1:3000", false},
		{"blob:https://a.example/0b6e2f", "https://a.example", false},
		{"data:text/html,hi", OpaqueOrigin, false},
		{"about:blank", OpaqueOrigin, false},
		{"file:///tmp/index.html", OpaqueOrigin, false},
		{"/relative/path", "", true},
		{"http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := SerializeOrigin(tt.url)
			switch {
			case tt.wantErr && err == nil:
				t.Errorf("SerializeOrigin(%q) = %q, want error", tt.url, got)
			case !tt.wantErr && err != nil:
				t.Errorf("SerializeOrigin(%q) failed: %v", tt.url, err)
			case got != tt.want:
				t.Errorf("SerializeOrigin(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestIsSameOrigin(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"https://app.example/a.html", "https://app.example/sw.js", true},
		{"http://app.example", "https://app.example", false},
		{"https://app.example", "https://child.example", false},
		{"https://app.example:443", "https://app.example", true},
		{"https://app.example:8443", "https://app.example", false},
		{"https://EXAMPLE.com/", "https://example.com/", true},
		{"about:blank", "about:blank", false},
		{"data:,x", "http://example.com", false},
		{"/relative", "/relative", false},
	}

	for _, tt := range tests {
		if got := IsSameOrigin(tt.a, tt.b); got != tt.want {
			t.Errorf("IsSameOrigin(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
