package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Local keeps objects under a base directory. References are slash-separated paths
// relative to it and are served under URLPrefix.
type Local struct {
	Base      string
	URLPrefix string
}

func NewLocal(base string) (*Local, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create upload base %s: %w", base, err)
	}
	return &Local{Base: base, URLPrefix: "/files"}, nil
}

func (l *Local) path(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if clean == "/" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("invalid object reference %q", ref)
	}
	return filepath.Join(l.Base, filepath.FromSlash(clean[1:])), nil
}

func (l *Local) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	// write to a temp file first so readers never see a partial image
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return strings.TrimPrefix(path.Clean("/"+key), "/"), nil
}

func (l *Local) Load(ctx context.Context, ref string) ([]byte, string, error) {
	p, err := l.path(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, "", err
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, nil
}

func (l *Local) URL(ctx context.Context, ref string) (string, error) {
	if _, err := l.path(ref); err != nil {
		return "", err
	}
	return strings.TrimRight(l.URLPrefix, "/") + "/" + strings.TrimPrefix(ref, "/"), nil
}
