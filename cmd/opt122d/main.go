package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	replayIn      string
	replayOut     string
	replayVerbose bool
	replayCfg     string
)

func main() {
	root := &cobra.Command{
		Use:   "opt122d",
		Short: "Rewrite the CableLabs primary DHCP server sub-option in cable modem replies",
	}

	run := &cobra.Command{
		Use:          "run",
		Short:        "Attach to the netfilter queue and rewrite replies until interrupted",
		RunE:         runDaemon,
		SilenceUsage: true,
	}
	run.Flags().StringVarP(&configPath, "config", "c", "/etc/opt122d/config.yaml", "Path to configuration file")

	replay := &cobra.Command{
		Use:          "replay",
		Short:        "Run a pcap capture through the rewriter and write the result to a new capture",
		RunE:         runReplay,
		SilenceUsage: true,
	}
	replay.Flags().StringVar(&replayIn, "in", "", "Input pcap file")
	replay.Flags().StringVar(&replayOut, "out", "", "Output pcap file")
	replay.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "Print a decoded summary of every rewritten reply")
	replay.Flags().StringVarP(&replayCfg, "config", "c", "", "Optional configuration file for checksum and logging settings")
	replay.MarkFlagRequired("in")
	replay.MarkFlagRequired("out")

	root.AddCommand(run, replay)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
