package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"metricwatch/internal/config"
	"metricwatch/internal/logger"
	"metricwatch/internal/processor"
)

var (
	version    = "dev"
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "metricwatch",
		Short: "Sustained-breach alarms for container metrics",
		Long: `metricwatch polls a container metrics endpoint on a fixed period,
compares configured metrics against thresholds and fires an alarm once a
breach has lasted for the metric's window. Alarms are sent to Slack, Kafka
or NATS and can scale an Auto Scaling group.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.ConfigFileFromEnv("metricwatch.yaml"), "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv(config.EnvPrefix+"LOG_LEVEL"), "Log level (overrides config)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	var upload bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the evaluation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if upload {
				cfg.Archive.Enabled = true
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return processor.New(cfg).Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&upload, "upload", false, "Upload the history document to S3 when an alarm fires")
	return cmd
}

func checkCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the metric definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defs, err := cfg.Definitions()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target %s, period %s\n\n", cfg.Target, cfg.Tick.Period)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tFIELD\tCOMPARATOR\tTHRESHOLD\tWINDOW")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.FieldPath(), d.Comparator, d.Threshold, d.Window)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !probe {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Source.Timeout+5*time.Second)
			defer cancel()

			observations, err := processor.Probe(ctx, cfg)
			if err != nil {
				return fmt.Errorf("probe: %w", err)
			}
			fmt.Fprintln(out)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(observations)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Fetch one snapshot and print the observations")
	return cmd
}

func historyCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the observation history persisted by the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			doc, err := processor.ReadHistory(ctx, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METRIC\tOBSERVATIONS\tBREACHED\tLAST VALUE\tLAST TIMESTAMP")
			for _, name := range doc.Names() {
				observations := doc[name]
				breached := 0
				for _, o := range observations {
					if o.Breached {
						breached++
					}
				}
				last, when := "-", "-"
				if n := len(observations); n > 0 {
					if v := observations[n-1].Value; v != nil {
						last = v.String()
					}
					when = observations[n-1].Timestamp.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", name, len(observations), breached, last, when)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw history document")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "metricwatch %s\n", version)
		},
	}
}
