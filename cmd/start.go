package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mstefan21/qrelay/internal/process"
	"github.com/mstefan21/qrelay/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay service",
	Long:  `Start the relay service in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	var err error
	cfg := cfgMgr.Get()
	if cfgMgr.Exists() {
		cfg, err = cfgMgr.Load()
		if err != nil {
			return err
		}
	} else {
		color.Yellow("No config file at %s, using defaults and environment", cfgMgr.GetPath())
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	server.Version = Version

	srv := server.New(cfgMgr, logger)
	return srv.Start()
}
