package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/vanguard/pkg/adminclient"
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Talk to a running vanguard instance's admin API",
	Long: `admin drives a running vanguard instance's admin API: inspect cluster
and backend status, attach/detach/promote nodes, trigger recovery, and
control the process.

Examples:
  # Authenticate once, token is cached under ~/.vanguard/token
  vanguard admin login -u admin

  # Inspect state
  vanguard admin status
  vanguard admin nodes

  # Drive failover by hand
  vanguard admin promote --node 2
  vanguard admin detach --node 1`,
}

func init() {
	adminCmd.PersistentFlags().String("url", "http://127.0.0.1:9898", "Admin API base URL")
	adminCmd.PersistentFlags().String("token", "", "Bearer token (overrides the cached one)")

	adminCmd.AddCommand(adminLoginCmd)
	adminCmd.AddCommand(adminStatusCmd)
	adminCmd.AddCommand(adminNodesCmd)
	adminCmd.AddCommand(adminNodeActionCmd("attach", "Mark a backend node attached"))
	adminCmd.AddCommand(adminNodeActionCmd("detach", "Detach a backend node from the pool"))
	adminCmd.AddCommand(adminNodeActionCmd("promote", "Promote a standby to primary"))
	adminCmd.AddCommand(adminRecoveryCmd)
	adminCmd.AddCommand(adminReloadCmd)
	adminCmd.AddCommand(adminShutdownCmd)
	adminCmd.AddCommand(adminWatchdogCmd)
}

func tokenCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vanguard-token"
	}
	return filepath.Join(home, ".vanguard", "token")
}

func adminClientFromFlags(cmd *cobra.Command) *adminclient.Client {
	baseURL, _ := cmd.Flags().GetString("url")
	token, _ := cmd.Flags().GetString("token")
	c := adminclient.NewClient(baseURL)
	if token != "" {
		return c.WithToken(token)
	}
	if cached, err := os.ReadFile(tokenCachePath()); err == nil {
		return c.WithToken(strings.TrimSpace(string(cached)))
	}
	return c
}

var adminLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the admin API and cache the bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			fmt.Print("Password: ")
			fmt.Scanln(&password)
		}

		baseURL, _ := cmd.Flags().GetString("url")
		c := adminclient.NewClient(baseURL)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		token, err := c.Login(ctx, username, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		path := tokenCachePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("failed to create token cache directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
			return fmt.Errorf("failed to cache token: %w", err)
		}
		fmt.Printf("✓ Logged in, token cached at %s\n", path)
		return nil
	},
}

func init() {
	adminLoginCmd.Flags().StringP("username", "u", "admin", "Admin username")
	adminLoginCmd.Flags().StringP("password", "p", "", "Admin password (prompted if omitted)")
}

var adminStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show overall cluster status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClientFromFlags(cmd)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		for k, v := range status {
			fmt.Printf("%-20s %v\n", k, v)
		}
		return nil
	},
}

var adminNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List backend nodes and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClientFromFlags(cmd)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		nodes, err := c.Nodes(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-4s %-10s %-22s %-10s %s\n", "ID", "ROLE", "HOST", "STATE", "QUARANTINED")
		for _, n := range nodes {
			fmt.Printf("%-4d %-10s %-22s %-10s %v\n", n.ID, n.Role, n.Host, n.Status.State, n.Status.Quarantined)
		}
		return nil
	},
}

func adminNodeActionCmd(action, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, _ := cmd.Flags().GetInt("node")
			c := adminClientFromFlags(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := c.NodeAction(ctx, nodeID, action)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %s node %d: %v\n", action, nodeID, result)
			return nil
		},
	}
	cmd.Flags().Int("node", 0, "Backend node ID (required)")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

var adminRecoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Trigger the online recovery pipeline for a detached node",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetInt("node")
		c := adminClientFromFlags(cmd)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := c.NodeAction(ctx, nodeID, "recovery")
		if err != nil {
			return err
		}
		fmt.Printf("✓ recovery started for node %d: %v\n", nodeID, result)
		return nil
	},
}

func init() {
	adminRecoveryCmd.Flags().Int("node", 0, "Backend node ID (required)")
	_ = adminRecoveryCmd.MarkFlagRequired("node")
}

var adminReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the running instance's configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClientFromFlags(cmd)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Control(ctx, "reload"); err != nil {
			return err
		}
		fmt.Println("✓ configuration reloaded")
		return nil
	},
}

var adminShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Gracefully shut down the running instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClientFromFlags(cmd)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Control(ctx, "stop"); err != nil {
			return err
		}
		fmt.Println("✓ shutdown requested")
		return nil
	},
}

var adminWatchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Inspect or control the watchdog (raft) cluster",
}

func init() {
	adminWatchdogCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show raft leadership and quorum state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminClientFromFlags(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			info, err := c.WatchdogStatus(ctx)
			if err != nil {
				return err
			}
			for k, v := range info {
				fmt.Printf("%-20s %v\n", k, v)
			}
			return nil
		},
	})
	adminWatchdogCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Leave the watchdog cluster and shut down raft on this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := adminClientFromFlags(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.WatchdogStop(ctx); err != nil {
				return err
			}
			fmt.Println("✓ watchdog stopped")
			return nil
		},
	})
}

// parseNodeID parses a node ID given as a bare positional argument
// instead of a flag. No subcommand in this file calls it.
func parseNodeID(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
