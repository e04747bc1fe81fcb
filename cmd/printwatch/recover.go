package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

func newRecoverCmd() *cobra.Command {
	var line int
	var skip bool
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Resume or discard an interrupted print without the terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			if skip && cmd.Flags().Changed("line") {
				return errors.New("--line and --skip are mutually exclusive")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printer, err := requirePrinter(cfg)
			if err != nil {
				return err
			}
			cfg.Broker.URL = ""
			logger := pslog.Ctx(cmd.Context()).With("printer", printer)
			panel, err := newPanel(cfg, logger, panelOptions{})
			if err != nil {
				return err
			}
			defer panel.Close()
			if err := panel.Refresh(cmd.Context()); err != nil {
				return err
			}
			session := panel.Recovery().Session()
			if !session.Visible {
				return fmt.Errorf("printer %s has no interrupted print", printer)
			}
			if session.Error != "" {
				return errors.New(session.Error)
			}
			if skip {
				if err := panel.Skip(cmd.Context()); err != nil {
					return err
				}
				logger.Info("recovery skipped", "file", session.File)
				return nil
			}
			if session.Phase == schema.RecoveryDisabled {
				return fmt.Errorf("%w; use --skip", schema.ErrRecoveryDisabled)
			}
			if cmd.Flags().Changed("line") {
				if err := panel.SelectLine(line); err != nil {
					return err
				}
			}
			target := panel.Recovery().Session().LineWindow.Max
			if err := panel.ConfirmRecover(cmd.Context()); err != nil {
				return err
			}
			logger.Info("recovery resumed", "file", session.File, "line", target)
			return nil
		},
	}
	cmd.Flags().IntVarP(&line, "line", "l", 0, "resume line (defaults to the last recorded line)")
	cmd.Flags().BoolVar(&skip, "skip", false, "discard the interrupted job")
	return cmd
}
