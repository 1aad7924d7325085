package blobstore

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// DialFunc 根据解析后的连接串构建对应的 Store 实例。
type DialFunc func(u *url.URL) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]DialFunc{}
)

// Register 将 scheme 绑定到工厂函数，backend 包在 init 中自注册。
func Register(scheme string, dial DialFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(scheme)] = dial
}

// Dial resolves a PRIMARY connection string to a backend by URL scheme.
func Dial(primary string) (Store, error) {
	u, err := url.Parse(primary)
	if err != nil {
		return nil, fmt.Errorf("parse primary connection string: %w", err)
	}

	registryMu.RLock()
	dial, ok := registry[strings.ToLower(u.Scheme)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported primary scheme %q (supported: %s)", u.Scheme, strings.Join(Schemes(), "|"))
	}
	return dial(u)
}

// Schemes returns the registered schemes, sorted for stable diagnostics.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for scheme := range registry {
		keys = append(keys, scheme)
	}
	sort.Strings(keys)
	return keys
}
