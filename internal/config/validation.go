package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// compilePatterns 编译全部正则配置，空值保持 nil。
func (c *Config) compilePatterns() error {
	compile := func(field, expr string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, nil
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return re, nil
	}

	var err error
	if c.KeepForeverPattern, err = compile("KEEP_FOREVER_REGEX", c.KeepForever); err != nil {
		return err
	}
	if c.NoCachePattern, err = compile("NO_CACHE_REGEX", c.NoCache); err != nil {
		return err
	}
	if c.IndexPattern, err = compile("INDEX_HTML_REGEX", c.IndexHTMLRegex); err != nil {
		return err
	}
	return nil
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}
	if c.Primary == "" {
		return newFieldError("PRIMARY", "不能为空")
	}
	if u, err := url.Parse(c.Primary); err != nil || u.Scheme == "" {
		return newFieldError("PRIMARY", "必须是带 scheme 的连接串")
	}
	if c.CachePath == "" {
		return newFieldError("CACHEPATH", "不能为空")
	}
	if c.Listen == "" {
		return newFieldError("LISTEN", "不能为空")
	}
	if c.Redirect != "" {
		if u, err := url.Parse(c.Redirect); err != nil || u.Scheme == "" {
			return newFieldError("REDIRECT", "必须是合法 URL")
		}
	}
	if c.IndexHTMLRegex != "" && c.IndexHTML == "" {
		return newFieldError("INDEX_HTML", "配置 INDEX_HTML_REGEX 时不能为空")
	}
	return nil
}
