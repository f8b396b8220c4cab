package fetcher

import "time"

const (
	DefaultDelayMin                    = 10 * time.Second
	DefaultDelayMax                    = 20 * time.Second
	DefaultRequestTimeout              = 30 * time.Second
	DefaultTransientRetries            = 3
	DefaultTransientBackoff            = 2 * time.Second
	DefaultChallengeMaxAttempts        = 3
	DefaultChallengeCooldownMultiplier = 3.0
	DefaultChallengeCooldownMax        = 10 * time.Minute
	DefaultRobotsAgent                 = "*"
)

type Config struct {
	DelayMin time.Duration `yaml:"delay_min"`
	DelayMax time.Duration `yaml:"delay_max"`
	// Asset delays pace image downloads; zero means use the page delays.
	AssetDelayMin  time.Duration `yaml:"asset_delay_min"`
	AssetDelayMax  time.Duration `yaml:"asset_delay_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	TransientRetries int           `yaml:"transient_retries"`
	TransientBackoff time.Duration `yaml:"transient_backoff"`

	// A challenged request is attempted at most ChallengeMaxAttempts times.
	// Each detection holds the pacing gate for
	// DelayMax * ChallengeCooldownMultiplier^n, capped at ChallengeCooldownMax.
	ChallengeMaxAttempts        int           `yaml:"challenge_max_attempts"`
	ChallengeCooldownMultiplier float64       `yaml:"challenge_cooldown_multiplier"`
	ChallengeCooldownMax        time.Duration `yaml:"challenge_cooldown_max"`

	RespectRobots bool   `yaml:"respect_robots"`
	RobotsAgent   string `yaml:"robots_agent"`
}

// Defaults returns the production pacing configuration.
func Defaults() Config {
	return Config{
		DelayMin:                    DefaultDelayMin,
		DelayMax:                    DefaultDelayMax,
		RequestTimeout:              DefaultRequestTimeout,
		TransientRetries:            DefaultTransientRetries,
		TransientBackoff:            DefaultTransientBackoff,
		ChallengeMaxAttempts:        DefaultChallengeMaxAttempts,
		ChallengeCooldownMultiplier: DefaultChallengeCooldownMultiplier,
		ChallengeCooldownMax:        DefaultChallengeCooldownMax,
		RobotsAgent:                 DefaultRobotsAgent,
	}
}

// WithDefaults fills fields that cannot meaningfully be zero. Delays may
// be zero.
func (c Config) WithDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.TransientRetries < 0 {
		c.TransientRetries = 0
	}
	if c.TransientBackoff <= 0 {
		c.TransientBackoff = DefaultTransientBackoff
	}
	if c.ChallengeMaxAttempts <= 0 {
		c.ChallengeMaxAttempts = DefaultChallengeMaxAttempts
	}
	if c.ChallengeCooldownMultiplier < 1 {
		c.ChallengeCooldownMultiplier = DefaultChallengeCooldownMultiplier
	}
	if c.ChallengeCooldownMax <= 0 {
		c.ChallengeCooldownMax = DefaultChallengeCooldownMax
	}
	if c.RobotsAgent == "" {
		c.RobotsAgent = DefaultRobotsAgent
	}
	if c.AssetDelayMin == 0 && c.AssetDelayMax == 0 {
		c.AssetDelayMin, c.AssetDelayMax = c.DelayMin, c.DelayMax
	}
	return c
}
