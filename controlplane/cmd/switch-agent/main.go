package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/yanet-platform/switchagent/common/go/logging"
	"github.com/yanet-platform/switchagent/common/go/xcmd"
	"github.com/yanet-platform/switchagent/controlplane/internal/hw"
	"github.com/yanet-platform/switchagent/controlplane/internal/version"
	"github.com/yanet-platform/switchagent/controlplane/pkg/agent"
)

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "switch-agent",
	Short: "Switch control plane agent",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until interrupted",
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

var fibCmd = &cobra.Command{
	Use:   "fib",
	Short: "Resolve the configured routes once and print the programmed FIB",
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return fib(cmd, rawCmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkPersistentFlagRequired("config")
	rootCmd.SilenceUsage = true
	rootCmd.Version = version.Version()
	rootCmd.AddCommand(runCmd, fibCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := agent.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	a, err := agent.NewAgent(cfg, agent.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	log.Infow("starting switch-agent", "version", version.Version())
	return xcmd.RunUntilInterrupted(context.Background(), log, a.Run)
}

func fib(cmd Cmd, w io.Writer) error {
	cfg, err := agent.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// One-shot resolution never talks to the kernel or exposes metrics.
	cfg.Discovery.Enable = false
	cfg.Metrics.Endpoint = ""
	cfg.Logging.Level = zapcore.WarnLevel

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	a, err := agent.NewAgent(cfg, agent.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()
	ready := make(chan error, 1)
	go func() {
		ready <- a.WaitReady(ctx)
	}()

	select {
	case err := <-done:
		cancel()
		<-ready
		return fmt.Errorf("agent stopped before applying config: %w", err)
	case <-ready:
	}

	printFib(w, a.Hardware())

	cancel()
	<-done
	return nil
}

func printFib(w io.Writer, sw *hw.SimSwitch) {
	rows := [][]string{}
	for _, entry := range sw.Fib() {
		nexthops := make([]string, 0, len(entry.NextHops))
		for idx, nh := range entry.NextHops {
			nexthops = append(nexthops, fmt.Sprintf("#%d %s", entry.Indices[idx], nh))
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", entry.RouterID),
			entry.Prefix.String(),
			entry.Action.String(),
			strings.Join(nexthops, ", "),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"ROUTER", "PREFIX", "ACTION", "NEXTHOPS"})
	table.AppendBulk(rows)
	table.Render()

	usage := sw.Usage()
	fmt.Fprintf(w, "\nroutes: %d (%s), nexthops: %d, ecmp groups: %d (%d members), acls: %d\n",
		usage.Routes, usage.RouteMemory.HumanReadable(), usage.NextHops,
		usage.EcmpGroups, usage.EcmpMembers, usage.AclEntries)
}
