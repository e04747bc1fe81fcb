package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pkt.systems/printwatch/internal/tui"
	"pkt.systems/pslog"
)

func newWatchCmd() *cobra.Command {
	var noAltScreen bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a printer's G-code stream and handle interrupted prints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := requirePrinter(cfg); err != nil {
				return err
			}
			logger, closeLog, err := openLogFile(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()
			pslog.Ctx(cmd.Context()).Info("watch logging to file", "path", cfg.Logging.File)

			tail := tui.NewTail(cfg.Telemetry.BufferMaxLines)
			panel, err := newPanel(cfg, logger, panelOptions{sink: tail})
			if err != nil {
				return err
			}
			defer panel.Close()
			events, unsubscribe := panel.Events().SubscribeAll()
			defer unsubscribe()

			ctx, cancel := context.WithCancel(pslog.ContextWithLogger(cmd.Context(), logger))
			defer cancel()
			runErr := make(chan error, 1)
			go func() { runErr <- panel.Run(ctx) }()

			model, err := tui.NewModel(ctx, tui.Options{
				Controller: panel,
				Events:     events,
				Tail:       tail,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			opts := []tea.ProgramOption{tea.WithContext(ctx)}
			if !noAltScreen {
				opts = append(opts, tea.WithAltScreen())
			}
			_, err = tea.NewProgram(model, opts...).Run()
			cancel()
			if perr := <-runErr; perr != nil {
				logger.Warn("panel stopped with error", "err", perr)
			}
			if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && cmd.Context().Err() != nil) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noAltScreen, "no-alt-screen", false, "render inline instead of on the alternate screen")
	return cmd
}
