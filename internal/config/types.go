package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Size 支持 b/k/m/g/t/p 后缀（1024 进制）的字节数配置，纯数字按字节解析。
type Size int64

// UnmarshalText 使 Viper 可以识别诸如 "10k"、"256m" 或纯数字等配置写法。
func (s *Size) UnmarshalText(text []byte) error {
	raw := strings.ToLower(strings.TrimSpace(string(text)))
	if raw == "" {
		*s = 0
		return nil
	}

	multiplier := int64(1)
	switch raw[len(raw)-1] {
	case 'b':
		raw = raw[:len(raw)-1]
	case 'k':
		multiplier = 1 << 10
		raw = raw[:len(raw)-1]
	case 'm':
		multiplier = 1 << 20
		raw = raw[:len(raw)-1]
	case 'g':
		multiplier = 1 << 30
		raw = raw[:len(raw)-1]
	case 't':
		multiplier = 1 << 40
		raw = raw[:len(raw)-1]
	case 'p':
		multiplier = 1 << 50
		raw = raw[:len(raw)-1]
	}

	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size value: %s", string(text))
	}
	if value < 0 {
		return fmt.Errorf("size must not be negative: %s", string(text))
	}
	*s = Size(value * multiplier)
	return nil
}

// Bytes 返回底层字节数。
func (s Size) Bytes() int64 {
	return int64(s)
}

// Span 支持 s/m/h/d/w 后缀的时长配置，纯数字按秒解析。
type Span time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "1d"、"12h" 或纯数字秒值等配置写法。
func (d *Span) UnmarshalText(text []byte) error {
	raw := strings.ToLower(strings.TrimSpace(string(text)))
	if raw == "" {
		*d = 0
		return nil
	}

	unit := time.Second
	switch raw[len(raw)-1] {
	case 's':
		raw = raw[:len(raw)-1]
	case 'm':
		unit = time.Minute
		raw = raw[:len(raw)-1]
	case 'h':
		unit = time.Hour
		raw = raw[:len(raw)-1]
	case 'd':
		unit = 24 * time.Hour
		raw = raw[:len(raw)-1]
	case 'w':
		unit = 7 * 24 * time.Hour
		raw = raw[:len(raw)-1]
	}

	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration value: %s", string(text))
	}
	if value < 0 {
		return fmt.Errorf("duration must not be negative: %s", string(text))
	}
	*d = Span(time.Duration(value) * unit)
	return nil
}

// Duration 返回真实的 time.Duration，便于调用方计算。
func (d Span) Duration() time.Duration {
	return time.Duration(d)
}

// LogConfig 描述日志输出行为。
type LogConfig struct {
	Level      string `mapstructure:"LOGLEVEL"`
	File       string `mapstructure:"LOG_FILE"`
	MaxSize    int    `mapstructure:"LOG_MAX_SIZE"`
	MaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	Compress   bool   `mapstructure:"LOG_COMPRESS"`
}

// Config 汇总全部环境变量配置；正则在 Load 时统一编译。
type Config struct {
	Primary        string `mapstructure:"PRIMARY"`
	CachePath      string `mapstructure:"CACHEPATH"`
	MaxNotFound    Size   `mapstructure:"MAX_NOT_FOUND"`
	MaxSize        Size   `mapstructure:"MAX_SIZE"`
	CacheTime      Span   `mapstructure:"CACHE_TIME"`
	Listen         string `mapstructure:"LISTEN"`
	Redirect       string `mapstructure:"REDIRECT"`
	APIKey         string `mapstructure:"APIKEY"`
	KeepForever    string `mapstructure:"KEEP_FOREVER_REGEX"`
	NoCache        string `mapstructure:"NO_CACHE_REGEX"`
	NotFoundHTML   string `mapstructure:"NOTFOUND_HTML"`
	IndexHTML      string `mapstructure:"INDEX_HTML"`
	IndexHTMLRegex string `mapstructure:"INDEX_HTML_REGEX"`

	Log LogConfig `mapstructure:",squash"`

	KeepForeverPattern *regexp.Regexp `mapstructure:"-"`
	NoCachePattern     *regexp.Regexp `mapstructure:"-"`
	IndexPattern       *regexp.Regexp `mapstructure:"-"`
}
