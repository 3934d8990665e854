// Package config loads the engine's two configuration surfaces: worker
// configuration (environment or INI file, read via viper) and
// czar/coordinator process configuration (environment variables, read
// with plain getenv/mustGetenv helpers).
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// WorkerConfig is the set of keys recognized by the worker process.
type WorkerConfig struct {
	MySQLSocket      string `mapstructure:"mysqlSocket"`
	MySQLDefaultUser string `mapstructure:"mysqlDefaultUser"`
	NumThreads       int    `mapstructure:"numThreads"`

	MemManKind     string `mapstructure:"QSW_MEMMAN"`
	MemManMB       int    `mapstructure:"QSW_MEMMAN_MB"`
	MemManLocation string `mapstructure:"QSW_MEMMAN_LOCATION"`

	ThreadPoolSize int `mapstructure:"QSW_THRDPOOLSZ"`
	GroupSize      int `mapstructure:"QSW_GROUPSZ"`

	PrioritySlow int `mapstructure:"QSW_PRIORITYSLOW"`
	PriorityMed  int `mapstructure:"QSW_PRIORITYMED"`
	PriorityFast int `mapstructure:"QSW_PRIORITYFAST"`

	ReserveSlow int `mapstructure:"QSW_RESERVESLOW"`
	ReserveMed  int `mapstructure:"QSW_RESERVEMED"`
	ReserveFast int `mapstructure:"QSW_RESERVEFAST"`
}

func workerDefaults() map[string]any {
	return map[string]any{
		"mysqlSocket":         "/var/run/mysqld/mysqld.sock",
		"mysqlDefaultUser":    "qsmaster",
		"numThreads":          4,
		"QSW_MEMMAN":          "dummy",
		"QSW_MEMMAN_MB":       1000,
		"QSW_MEMMAN_LOCATION": "",
		"QSW_THRDPOOLSZ":      4,
		"QSW_GROUPSZ":         4,
		"QSW_PRIORITYSLOW":    1,
		"QSW_PRIORITYMED":     1,
		"QSW_PRIORITYFAST":    1,
		"QSW_RESERVESLOW":     0,
		"QSW_RESERVEMED":      0,
		"QSW_RESERVEFAST":     0,
	}
}

// LoadWorkerConfig reads worker configuration from the environment,
// overlaid with an INI file at iniPath if non-empty. Every recognized
// key has a default, so a bare environment with no file still yields a
// usable config.
func LoadWorkerConfig(iniPath string) (*WorkerConfig, error) {
	v := viper.New()
	for key, def := range workerDefaults() {
		v.SetDefault(key, def)
		if err := v.BindEnv(key, key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if iniPath != "" {
		v.SetConfigFile(iniPath)
		v.SetConfigType("ini")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read worker config %s: %w", iniPath, err)
		}
	}

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal worker config: %w", err)
	}
	return &cfg, nil
}
