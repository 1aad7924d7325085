package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/blobmirror/blobmirror/internal/version"
)

func init() {
	Register("http", dialHTTP)
	Register("https", dialHTTP)
}

func dialHTTP(u *url.URL) (Store, error) {
	base := *u
	base.User = nil
	store := &httpStore{
		base:   &base,
		client: newHTTPClient(),
	}
	if user := u.User; user != nil {
		store.username = user.Username()
		store.password, _ = user.Password()
	}
	return store, nil
}

// httpStore 将一个 HTTP(S) 端点当作只读对象存储：HEAD 即 stat，GET 即读取。
type httpStore struct {
	base     *url.URL
	client   *http.Client
	username string
	password string
}

func (s *httpStore) Stat(ctx context.Context, key string) (Info, error) {
	resp, err := s.do(ctx, http.MethodHead, key)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	if err := s.checkStatus(resp); err != nil {
		return Info{}, err
	}

	info := Info{Length: resp.ContentLength}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info, nil
}

func (s *httpStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, key)
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (s *httpStore) do(ctx context.Context, method, key string) (*http.Response, error) {
	target := s.base.JoinPath(key)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, key, err)
	}
	return resp, nil
}

func (s *httpStore) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	return nil
}
