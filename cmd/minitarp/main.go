package main

import (
	"fmt"
	"os"

	"github.com/razzie/minitarp/common"
	"github.com/razzie/minitarp/config"
	"github.com/razzie/minitarp/logging"
	"github.com/spf13/cobra"
)

func main() {
	var (
		dataPath string
		reArm    bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "minitarp",
		Short: "minitarp launches a binary under ptrace and reports coverage at configured addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(dataPath, reArm, verbose)
		},
	}

	cmd.Flags().StringVarP(&dataPath, "data", "d", "minitarp.toml", "path to the run's TOML configuration document")
	cmd.Flags().BoolVar(&reArm, "rearm", false, "re-arm breakpoints after step-over (single-threaded tracees only)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(dataPath string, reArm, verbose bool) error {
	log, err := logging.New(logging.Options{Verbose: verbose})
	if err != nil {
		return err
	}

	cfg, err := config.Load(dataPath)
	if err != nil {
		log.WithError(err).Error("failed to load config")
		return err
	}
	log.Info("loaded config")

	addrs, err := cfg.Addresses()
	if err != nil {
		log.WithError(err).Error("failed to parse breakpoint addresses")
		return err
	}

	backend := common.NewLinuxBackend()
	launcher := common.NewLauncher(backend, log)

	exitCode, traces, timeline, runErr := launcher.Run(common.LaunchConfig{
		Binary:      cfg.Binary,
		Args:        cfg.Args,
		Breakpoints: addrs,
		ReArm:       reArm,
	})

	ok := runErr == nil && exitCode == 0
	if timeline != nil {
		if saveErr := timeline.Save(cfg.Sink(), ok); saveErr != nil {
			log.WithError(saveErr).Warn("failed to save timeline")
		}
	}

	if runErr != nil {
		log.WithError(runErr).Error("trace run failed")
		return runErr
	}

	for _, t := range traces {
		fmt.Printf("Address %x hits %d\n", t.Address, t.Count)
	}
	fmt.Printf("Return code is %d\n", exitCode)

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
