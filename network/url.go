package network

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// OpaqueOrigin is the serialization of an opaque origin.
const OpaqueOrigin = "null"

// defaultPorts lists the ports elided when serializing a tuple origin.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// ResolveURL resolves a reference URL against a base URL.
// If ref is already absolute, it is returned as-is.
func ResolveURL(base, ref string) (string, error) {
	if ref == "" {
		return base, nil
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference URL: %w", err)
	}
	if refURL.IsAbs() {
		return refURL.String(), nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if !baseURL.IsAbs() {
		return "", fmt.Errorf("base URL %q is not absolute", base)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// SerializeOrigin returns the ASCII serialization of the origin of an
// absolute URL: scheme://host[:port] for tuple origins, "null" for opaque
// ones (data:, about:, file:, blob: without an inner origin, and so on).
func SerializeOrigin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("URL %q is not absolute", rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "blob" {
		// blob:https://a.example/uuid carries the origin of its inner URL.
		if inner, err := SerializeOrigin(u.Opaque); err == nil {
			return inner, nil
		}
		return OpaqueOrigin, nil
	}
	if _, ok := defaultPorts[scheme]; !ok {
		return OpaqueOrigin, nil
	}

	hostname := u.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("URL %q has no host", rawURL)
	}
	host, err := asciiHost(hostname)
	if err != nil {
		return "", fmt.Errorf("invalid host in %q: %w", rawURL, err)
	}

	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		return scheme + "://[" + host + "]", nil
	}
	return scheme + "://" + host, nil
}

// asciiHost lowercases and IDNA-encodes a domain. IP literals pass through.
func asciiHost(hostname string) (string, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.String(), nil
	}
	return idna.Lookup.ToASCII(strings.ToLower(hostname))
}

// IsSameOrigin checks if two URLs have the same tuple origin.
// Opaque origins are never same-origin with anything.
func IsSameOrigin(url1, url2 string) bool {
	origin1, err1 := SerializeOrigin(url1)
	origin2, err2 := SerializeOrigin(url2)
	if err1 != nil || err2 != nil {
		return false
	}
	if origin1 == OpaqueOrigin || origin2 == OpaqueOrigin {
		return false
	}
	return origin1 == origin2
}
