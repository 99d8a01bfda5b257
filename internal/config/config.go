package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. BARFEED_FEED_WARMUP=50.
const EnvPrefix = "BARFEED"

// envKeys are bound explicitly so they override the file even when the file
// never mentions them.
var envKeys = []string{
	"app.log_level",
	"app.http_addr",
	"feed.symbol",
	"feed.resolution",
	"feed.warmup",
	"feed.offline",
	"exchange.name",
	"exchange.rest_base_url",
	"exchange.proxy",
	"publish.redis.enabled",
	"publish.redis.addr",
	"publish.redis.password",
	"notify.telegram.enabled",
	"notify.telegram.bot_token",
	"notify.telegram.chat_id",
}

// Load reads path (and its include chain), applies env overrides, defaults
// and validation.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := mergeWithIncludes(v, abs, map[string]bool{}, map[string]bool{}); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(explicitKeys(v))
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeWithIncludes merges the files listed under include: (depth first, in
// order) and then path itself into v, so later files win.
func mergeWithIncludes(v *viper.Viper, path string, merged, active map[string]bool) error {
	path = filepath.Clean(path)
	if active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if merged[path] {
		return nil
	}
	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	active[path] = true
	for _, inc := range file.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := mergeWithIncludes(v, inc, merged, active); err != nil {
			return err
		}
	}
	delete(active, path)
	merged[path] = true
	return v.MergeConfigMap(file.AllSettings())
}

// explicitKeys are the dotted keys a file or an env var actually set; those
// keep their value even when it is a zero value.
func explicitKeys(v *viper.Viper) keySet {
	keys := make(keySet)
	for _, k := range v.AllKeys() {
		if v.IsSet(k) {
			keys.mark(k)
		}
	}
	return keys
}
