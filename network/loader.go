package network

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Script is loaded script source.
type Script struct {
	// URL is the absolute URL the script was loaded from; it names the
	// script in stack traces and becomes a service worker's scriptURL.
	URL    string
	Source string
}

// Loader reads scripts from the filesystem, data: URLs and HTTP(S).
type Loader struct {
	client *Client
	// dir resolves relative file paths; empty means the working directory.
	dir string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithDir sets the directory relative paths are resolved against.
func WithDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.dir = dir
	}
}

// NewLoader creates a loader. A nil client disables HTTP loading.
func NewLoader(client *Client, opts ...LoaderOption) *Loader {
	l := &Loader{client: client}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads the script named by ref: a path, a file: URL, a data: URL or
// an http(s) URL.
func (l *Loader) Load(ctx context.Context, ref string) (*Script, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		return l.loadFile(ref)
	}

	switch strings.ToLower(u.Scheme) {
	case "data":
		return loadDataURL(ref)
	case "file":
		return l.loadFile(u.Path)
	case "http", "https":
		return l.loadHTTP(ctx, ref)
	}
	return nil, fmt.Errorf("cannot load script %q: unsupported scheme %q", ref, u.Scheme)
}

func (l *Loader) loadFile(path string) (*Script, error) {
	if !filepath.IsAbs(path) && l.dir != "" {
		path = filepath.Join(l.dir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %q: %w", path, err)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot read script: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return &Script{URL: u.String(), Source: string(content)}, nil
}

func (l *Loader) loadHTTP(ctx context.Context, ref string) (*Script, error) {
	if l.client == nil {
		return nil, fmt.Errorf("cannot load script %q: network loading is disabled", ref)
	}
	resp, err := l.client.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cannot load script %q: status %d", ref, resp.StatusCode)
	}
	// Same leniency as classic scripts: only obviously wrong types are refused.
	if mediaType, _ := ParseContentType(resp.ContentType); mediaType == "text/html" || strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("cannot load script %q: unexpected MIME type %q", ref, mediaType)
	}
	return &Script{URL: resp.URL, Source: string(resp.Body)}, nil
}

// loadDataURL decodes data:[<mediatype>][;base64],<data>.
func loadDataURL(ref string) (*Script, error) {
	rest := ref[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, fmt.Errorf("invalid data URL: missing comma")
	}
	meta, payload := rest[:comma], rest[comma+1:]

	var data []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			return nil, fmt.Errorf("invalid data URL: %w", err)
		}
		data = decoded
	} else {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid data URL: %w", err)
		}
		data = []byte(decoded)
	}
	return &Script{URL: ref, Source: string(data)}, nil
}
