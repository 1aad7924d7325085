package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"

	gowebdav "github.com/emersion/go-webdav"
)

func init() {
	Register("webdav", dialWebdav)
	Register("webdavs", dialWebdav)
}

// dialWebdav 将 webdav(s)://user:pass@host/path 映射为 http(s) 端点并建立客户端。
func dialWebdav(u *url.URL) (Store, error) {
	endpoint := *u
	endpoint.User = nil
	switch u.Scheme {
	case "webdavs":
		endpoint.Scheme = "https"
	default:
		endpoint.Scheme = "http"
	}

	var hc gowebdav.HTTPClient = newHTTPClient()
	if user := u.User; user != nil {
		password, _ := user.Password()
		hc = gowebdav.HTTPClientWithBasicAuth(hc, user.Username(), password)
	}

	client, err := gowebdav.NewClient(hc, endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("build webdav client: %w", err)
	}
	return &webdavStore{client: client}, nil
}

type webdavStore struct {
	client *gowebdav.Client
}

func (s *webdavStore) Stat(ctx context.Context, key string) (Info, error) {
	fi, err := s.client.Stat(ctx, key)
	if err != nil {
		if isWebdavNotFound(err) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("webdav stat %s: %w", key, err)
	}
	if fi.IsDir {
		// Collections have no streamable body.
		return Info{}, ErrNotFound
	}
	return Info{Length: fi.Size, LastModified: fi.ModTime}, nil
}

func (s *webdavStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.client.Open(ctx, key)
	if err != nil {
		if isWebdavNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webdav open %s: %w", key, err)
	}
	return rc, nil
}

// isWebdavNotFound 识别 404。go-webdav 客户端不导出带状态码的错误类型，
// 只能同时检查 fs.ErrNotExist 与错误文本中的状态行。
func isWebdavNotFound(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "Not Found")
}
