package discover

import "time"

const (
	DefaultPageSize     = 20
	DefaultPageRetries  = 2
	DefaultRetryBackoff = 5 * time.Second
	DefaultAPIBase      = "https://www.zhihu.com"
)

type Config struct {
	PageSize     int           `yaml:"page_size"`
	PageRetries  int           `yaml:"page_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	APIBase      string        `yaml:"api_base"`
}

func (c Config) WithDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageRetries < 0 {
		c.PageRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	return c
}
