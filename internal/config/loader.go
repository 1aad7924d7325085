package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envDefaults 枚举全部可识别的环境变量；逐一注册默认值以便 Unmarshal 统一取值。
var envDefaults = map[string]any{
	"PRIMARY":            "",
	"CACHEPATH":          "",
	"MAX_NOT_FOUND":      "10k",
	"MAX_SIZE":           "10m",
	"CACHE_TIME":         "1d",
	"LISTEN":             ":5000",
	"REDIRECT":           "",
	"APIKEY":             "",
	"KEEP_FOREVER_REGEX": "",
	"NO_CACHE_REGEX":     "",
	"NOTFOUND_HTML":      "",
	"INDEX_HTML":         "",
	"INDEX_HTML_REGEX":   "",
	"LOGLEVEL":           "info",
	"LOG_FILE":           "",
	"LOG_MAX_SIZE":       100,
	"LOG_MAX_BACKUPS":    10,
	"LOG_COMPRESS":       true,
}

// Load 从环境变量读取并解析配置，同时注入默认值与校验逻辑。
func Load() (*Config, error) {
	v := viper.New()
	for key, def := range envDefaults {
		v.SetDefault(key, def)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", key, err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.compilePatterns(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.CachePath != "" {
		abs, err := filepath.Abs(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.CachePath = abs
	}

	return &cfg, nil
}
