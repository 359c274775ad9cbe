package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/Dicklesworthstone/pcinfo/internal/config"
	"github.com/Dicklesworthstone/pcinfo/internal/logging"
	"github.com/Dicklesworthstone/pcinfo/internal/procctl"
	"github.com/Dicklesworthstone/pcinfo/internal/refresh"
	"github.com/Dicklesworthstone/pcinfo/internal/report"
	"github.com/Dicklesworthstone/pcinfo/internal/sampler"
	"github.com/Dicklesworthstone/pcinfo/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	logging.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pcinfo",
		Short:         "Show hardware information and a live process list",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runTUI,
	}
	config.AddFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "tui",
			Short: "Start the interactive monitor (default)",
			Args:  cobra.NoArgs,
			RunE:  runTUI,
		},
		&cobra.Command{
			Use:   "info",
			Short: "Print system information and exit",
			Args:  cobra.NoArgs,
			RunE:  runInfo,
		},
		newPsCmd(),
		newKillCmd(),
	)
	return root
}

// setup loads the config and starts file logging.
func setup(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromFlags(cmd.Context(), cmd.Flags())
	if err != nil {
		return cfg, err
	}
	if _, err := logging.Setup(cfg.LogDir, cfg.Verbosity); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runTUI(cmd *cobra.Command, _ []string) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	klog.Infof("starting pcinfo, interval %s", cfg.Interval)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	loop := refresh.New(sampler.New(), cfg.Interval)
	go func() {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			klog.Errorf("refresh loop: %v", err)
		}
	}()

	intervalPinned := cmd.Flags().Changed(config.FlagInterval)
	go func() {
		err := config.Watch(ctx, cfg.Path, func(next config.Config) {
			if intervalPinned || next.Interval == loop.Interval() {
				return
			}
			if err := loop.SetInterval(next.Interval); err != nil {
				klog.Errorf("apply reloaded interval: %v", err)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			klog.Warningf("config hot reload disabled: %v", err)
		}
	}()

	err = ui.Run(loop, procctl.New(cfg.Protected))
	cancel()
	klog.Info("pcinfo stopped")
	return err
}

func runInfo(cmd *cobra.Command, _ []string) error {
	if _, err := setup(cmd); err != nil {
		return err
	}
	snap, err := sampler.New().Snapshot(cmd.Context())
	if err != nil {
		klog.Warningf("partial snapshot: %v", err)
	}
	return report.Snapshot(cmd.OutOrStdout(), snap)
}

func newPsCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "ps",
		Short: "Print the process list sorted by CPU usage and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := setup(cmd); err != nil {
				return err
			}
			rows, err := sampler.New().Processes(cmd.Context())
			if err != nil {
				return err
			}
			report.Processes(cmd.OutOrStdout(), rows, limit)
			return nil
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 0, "show at most this many processes (0 = all)")
	return c
}

func newKillCmd() *cobra.Command {
	var yes bool
	c := &cobra.Command{
		Use:   "kill PID",
		Short: "Terminate a process, force-killing it after a grace period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			pid, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid process ID %q", args[0])
			}
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Terminate process %d? [y/N] ", pid)
				var answer string
				_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
				if answer != "y" && answer != "Y" {
					fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
					return nil
				}
			}

			res, err := procctl.New(cfg.Protected).Terminate(cmd.Context(), int32(pid))
			switch {
			case errors.Is(err, procctl.ErrProtected) && res.Name == "":
				return err
			case errors.Is(err, procctl.ErrProtected):
				return fmt.Errorf("cannot terminate critical system process %s", res.Name)
			case errors.Is(err, procctl.ErrNotFound):
				return fmt.Errorf("process with PID %d no longer exists", pid)
			case errors.Is(err, procctl.ErrAccessDenied):
				return fmt.Errorf("access denied: cannot terminate %s (PID %d)", res.Name, pid)
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Process %s (%d) %s\n", res.Name, pid, res.Outcome)
			return nil
		},
	}
	c.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return c
}
