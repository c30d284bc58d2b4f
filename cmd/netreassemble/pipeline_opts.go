package main

import (
	"github.com/spf13/viper"

	"github.com/netreassemble/netreassemble/config"
	"github.com/netreassemble/netreassemble/internal/logging"
)

// buildLogging assembles a logging.Config from viper's merged flag/env/file
// settings.
func buildLogging() logging.Config {
	cfg := logging.DefaultConfig()
	if v := viper.GetString("log-level"); v != "" {
		cfg.Level = v
	}
	cfg.JSON = viper.GetBool("log-json")
	cfg.FilePath = viper.GetString("log-file")
	return cfg
}

// buildPipelineOptions assembles config.Options from viper's merged
// flag/env/file settings, leaving any knob left at its zero value to fall
// back to config.Default()'s own default.
func buildPipelineOptions() []config.Option {
	var opts []config.Option

	if n := viper.GetInt("shard-count"); n > 0 {
		opts = append(opts, config.WithShardCount(n))
	}
	if n := viper.GetInt("worker-count"); n > 0 {
		opts = append(opts, config.WithWorkerCount(n))
	}
	if d := viper.GetDuration("stream-timeout"); d > 0 {
		opts = append(opts, config.WithStreamTimeout(d))
	}
	if d := viper.GetDuration("fragment-timeout"); d > 0 {
		opts = append(opts, config.WithFragmentTimeout(d))
	}
	if n := viper.GetUint32("max-gap"); n > 0 {
		opts = append(opts, config.WithMaxGap(n))
	}

	return opts
}
