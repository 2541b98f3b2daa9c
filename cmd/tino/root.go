package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tino/internal/config"
	"tino/internal/engine"
	"tino/internal/hooks"
	"tino/internal/logger"
	"tino/internal/security"
	"tino/internal/storage"
)

// app 一次命令执行所需的全部接线：配置、日志、工作区与守护协调器。
// app is everything one command execution wires up: config, logging,
// workspace, and the daemon coordinator.
type app struct {
	root string
	cfg  config.Config
	log  zerolog.Logger
	ws   *security.Workspace
}

func newApp(cwd string) (*app, error) {
	root := cwd
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	ws, err := security.NewWorkspace(root)
	if err != nil {
		return nil, err
	}

	cfg, cfgErr := config.Load(ws.Root())
	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	if cfgErr != nil {
		log.Warn().Err(cfgErr).Msg("config fell back to defaults")
	}
	return &app{root: ws.Root(), cfg: cfg, log: log, ws: ws}, nil
}

func (a *app) openStore() (storage.Store, error) {
	return storage.NewSQLiteStore(a.cfg.Storage.DBPath)
}

func (a *app) spawner() *engine.Spawner {
	return engine.NewSpawner(
		a.cfg.Engine.Command,
		a.cfg.Engine.HealthURL,
		a.cfg.Engine.ShutdownURL,
		time.Duration(a.cfg.Engine.StartTimeoutMS)*time.Millisecond,
		time.Duration(a.cfg.Engine.PollIntervalMS)*time.Millisecond,
		a.log,
	)
}

func (a *app) coordinator() *engine.Coordinator {
	reg := engine.NewRegistry(a.cfg.Engine.LockDir, a.log)
	return engine.NewCoordinator(
		reg,
		a.spawner(),
		filepath.Join(a.cfg.Engine.LockDir, "shutdown.lock"),
		time.Duration(a.cfg.Engine.WatchdogIntervalMS)*time.Millisecond,
		a.log,
		func(err error) {
			a.log.Error().Err(err).Msg("engine coordination lost, exiting")
			os.Exit(1)
		},
	)
}

// hookRunner loads the project's configured command hooks.
func (a *app) hookRunner() *hooks.Runner {
	runner := hooks.NewRunner(a.log, hooks.WithWorkDir(a.root))
	entries, err := config.LoadHooks(a.root)
	if err != nil {
		a.log.Warn().Err(err).Msg("hooks config ignored")
	}
	for _, e := range entries {
		runner.Register(hooks.Definition{
			Event:   hooks.Event(e.Event),
			Kind:    hooks.KindCommand,
			Command: e.Command,
		})
	}
	return runner
}

func newRootCmd() *cobra.Command {
	var cwd string

	root := &cobra.Command{
		Use:           "tino",
		Short:         "Workbench client for the tino trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cwd, "cwd", "", "project root (defaults to the working directory)")

	root.AddCommand(
		newCallCmd(&cwd),
		newEngineCmd(&cwd),
		newCheckpointCmd(&cwd),
		newTasksCmd(&cwd),
		newSessionsCmd(&cwd),
	)
	return root
}
