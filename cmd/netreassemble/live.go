package main

import (
	"github.com/spf13/cobra"

	"github.com/netreassemble/netreassemble/capture"
)

var liveBPFFilter string

var liveCmd = &cobra.Command{
	Use:   "live <device>",
	Short: "Reassemble traffic sniffed from a live interface",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd, capture.NewDeviceSource(args[0], liveBPFFilter))
	},
}

func init() {
	liveCmd.Flags().StringVar(&liveBPFFilter, "bpf", "", "BPF filter applied to the capture")
}
