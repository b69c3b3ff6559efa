package config

import "github.com/caarlos0/env/v11"

// Env holds the overrides supplied by the deploy environment; everything else
// comes from the YAML file.
type Env struct {
	ConfigPath     string `env:"CONFIG_PATH" envDefault:"configs/config.yaml"`
	BrandsPath     string `env:"BRANDS_PATH" envDefault:"configs/brands.yaml"`
	RedisAddr      string `env:"REDIS_ADDR"`
	SchedulerToken string `env:"SCHEDULER_TOKEN"`
}

func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Apply overlays the non-empty environment values onto a loaded config.
func (e Env) Apply(cfg *Config) {
	if e.RedisAddr != "" {
		cfg.Redis.Address = e.RedisAddr
	}
	if e.SchedulerToken != "" {
		cfg.Server.SchedulerToken = e.SchedulerToken
	}
}
