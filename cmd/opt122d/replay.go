package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/veesix-networks/cmopt122/internal/replay"
	"github.com/veesix-networks/cmopt122/pkg/config"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"github.com/veesix-networks/cmopt122/pkg/mangle"
)

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if replayCfg != "" {
		loaded, err := config.Load(replayCfg)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	configureLogging(cfg)

	in, err := os.Open(replayIn)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(replayOut)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	var verbose io.Writer
	if replayVerbose {
		verbose = cmd.OutOrStdout()
	}

	r := replay.New(replay.Options{
		Mangler: mangle.New(mangle.Options{Checksum: cfg.Checksum}),
		Verbose: verbose,
	})

	sum, runErr := r.Run(in, out)
	if err := out.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close output: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	log := logger.Get(logger.Replay)
	log.Info("Replay complete", "packets", sum.Packets, "rewritten", sum.Rewritten)
	for _, reason := range sum.SortedReasons() {
		log.Info("Outcome", "reason", string(reason), "count", sum.Reasons[reason])
	}

	return nil
}
