package main

import (
	"fmt"
	"os"

	"github.com/cuemby/vanguard/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vanguard",
	Short: "Vanguard - a connection pooler, load balancer, and failover coordinator for PostgreSQL",
	Long: `Vanguard sits in front of a PostgreSQL primary and its replicas, pooling
and routing client connections, watching backend health, and driving
failover through a clustered watchdog when the primary disappears.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vanguard version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(adminCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func init() {
	startCmd.Flags().StringP("config", "c", "", "Path to the vanguard YAML config file (required)")
	startCmd.Flags().String("data-dir", "/var/lib/vanguard", "Directory for the bbolt status/CA database")
	startCmd.Flags().String("node-id", "", "This node's watchdog identity (defaults to hostname)")
	startCmd.Flags().Bool("bootstrap", false, "Bootstrap a brand-new watchdog cluster with this node as its only voter")
	_ = startCmd.MarkFlagRequired("config")
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vanguard pooler daemon",
	RunE:  runStart,
}

func exitWithCode(code int, format string, args ...any) error {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
	return nil // unreachable
}
