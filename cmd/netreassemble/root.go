package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "netreassemble",
	Short: "Reconstruct TCP/UDP flows from captured traffic",
	Long: `netreassemble drives the IpDefragmenter/WorkerPool/ShardedTcpReassembler
pipeline over a pcap file or a live interface and prints a summary of the
flows it reconstructs.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./netreassemble.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit JSON-formatted logs")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this rotated file")

	rootCmd.PersistentFlags().Int("shard-count", 0, "TCP reassembly shard count (0 = one per CPU)")
	rootCmd.PersistentFlags().Int("worker-count", 0, "worker pool size (0 = one per CPU)")
	rootCmd.PersistentFlags().Duration("stream-timeout", 0, "idle TCP stream eviction timeout (0 = default)")
	rootCmd.PersistentFlags().Duration("fragment-timeout", 0, "IP fragment group TTL (0 = default)")
	rootCmd.PersistentFlags().Uint32("max-gap", 0, "largest acceptable out-of-order gap, in bytes (0 = default)")

	for _, name := range []string{
		"log-level", "log-json", "log-file",
		"shard-count", "worker-count", "stream-timeout", "fragment-timeout", "max-gap",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(liveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("netreassemble")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("NETREASSEMBLE")
	viper.AutomaticEnv()

	// A missing config file is fine; CLI flags and defaults still apply.
	_ = viper.ReadInConfig()
}
