package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/printwatch/schema"
	"pkt.systems/pslog"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Poll connectivity and print status once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printer, err := requirePrinter(cfg)
			if err != nil {
				return err
			}
			// One-shot polls do not need live events.
			cfg.Broker.URL = ""
			logger := pslog.Ctx(cmd.Context())
			panel, err := newPanel(cfg, logger, panelOptions{})
			if err != nil {
				return err
			}
			defer panel.Close()
			if err := panel.Refresh(cmd.Context()); err != nil {
				logger.Warn("status refresh incomplete", "err", err)
			}
			status, statusErr := panel.LastPrintStatus()
			return writeStatus(cmd.OutOrStdout(), statusReport{
				Printer:      printer,
				Connectivity: panel.Monitor().Status(),
				Print:        status,
				PrintErr:     statusErr,
				Recovery:     panel.Recovery().Session(),
			})
		},
	}
	return cmd
}

type statusReport struct {
	Printer      schema.PrinterID
	Connectivity schema.Connectivity
	Print        schema.PrintStatus
	PrintErr     error
	Recovery     schema.RecoverySession
}

func writeStatus(w io.Writer, r statusReport) error {
	lastSeen := "never"
	if r.Connectivity.LastSeenAt != nil {
		lastSeen = r.Connectivity.LastSeenAt.Format(time.RFC3339)
	}
	if _, err := fmt.Fprintf(w, "printer:      %s\nconnectivity: %s (threshold %ds, last seen %s)\n",
		r.Printer, r.Connectivity.Label, r.Connectivity.ThresholdSecs, lastSeen); err != nil {
		return err
	}
	switch {
	case r.PrintErr != nil:
		if _, err := fmt.Fprintf(w, "print:        unavailable (%v)\n", r.PrintErr); err != nil {
			return err
		}
	case r.Print.ActiveFile == "":
		if _, err := fmt.Fprintln(w, "print:        no active job"); err != nil {
			return err
		}
	default:
		if _, err := fmt.Fprintf(w, "print:        %s line %d/%d active=%t failed=%t\n",
			r.Print.ActiveFile, r.Print.CurrentLine, r.Print.LastLine, r.Print.HasActiveJob, r.Print.LastJobHasFailed); err != nil {
			return err
		}
	}
	if !r.Recovery.Visible {
		return nil
	}
	_, err := fmt.Fprintf(w, "recovery:     %s (resume line %d of %d)\n", r.Recovery.Phase, r.Recovery.LineWindow.Max, r.Recovery.LastLine)
	if err == nil && r.Recovery.Error != "" {
		_, err = fmt.Fprintf(w, "              %s\n", r.Recovery.Error)
	}
	return err
}
