// Command sandboxctl is a thin HTTP client for operating a running
// sandboxd instance: pool status, environment inventory, and one-off
// executions from a local config file. It has no access to the pool or
// store internals — everything goes over the wire.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sandboxctl",
	Short: "Operator CLI for the sandbox execution service",
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "sandboxd base URL")
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.SetEnvPrefix("SANDBOXCTL")
	viper.BindEnv("server")

	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(execCmd)
}

func serverURL() string {
	return viper.GetString("server")
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect the sandbox container pool",
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool size and availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Ready         bool `json:"ready"`
			PoolAvailable int  `json:"pool_available"`
			PoolSize      int  `json:"pool_size"`
		}
		if err := getJSON(serverURL()+"/healthz", &body); err != nil {
			return fmt.Errorf("pool status: %w", err)
		}
		logger.Info("pool status", "ready", body.Ready, "available", body.PoolAvailable, "size", body.PoolSize)
		fmt.Printf("ready:     %v\n", body.Ready)
		fmt.Printf("available: %d/%d\n", body.PoolAvailable, body.PoolSize)
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolStatusCmd)
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage stored environments",
}

var envLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Print a notice that environment listing is not exposed over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Warn("environment listing is not exposed over HTTP; use `sandboxctl env rm <id>` or inspect the store directly on the host")
		return nil
	},
}

var envRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Check whether an environment exists (deletion happens via TTL expiry only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		ok, err := headOK(serverURL() + "/environments/" + id + "/")
		if err != nil {
			return fmt.Errorf("env rm: %w", err)
		}
		if !ok {
			logger.Warn("environment not found", "id", id)
			return nil
		}
		logger.Info("environment exists; sandboxd expires environments by TTL, not by operator request", "id", id)
		return nil
	},
}

var envGcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Report current pool occupancy as a proxy for store pressure",
	RunE: func(cmd *cobra.Command, args []string) error {
		return poolStatusCmd.RunE(cmd, args)
	},
}

func init() {
	envCmd.AddCommand(envLsCmd)
	envCmd.AddCommand(envRmCmd)
	envCmd.AddCommand(envGcCmd)
}

var execCmd = &cobra.Command{
	Use:   "exec CONFIG_FILE",
	Short: "Submit a command list from a local JSON config file to /execute/",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := args[0]
		envPath, _ := cmd.Flags().GetString("environment")

		result, err := submitExecute(serverURL(), configPath, envPath)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}

		logger.Info("execution finished", "status", result.Status, "total_time", result.TotalTime)
		for _, pc := range result.Execution {
			fmt.Printf("$ %s\n", pc.Command)
			if pc.Stdout != "" {
				fmt.Println(pc.Stdout)
			}
			if pc.Stderr != "" {
				fmt.Fprintln(os.Stderr, pc.Stderr)
			}
			fmt.Printf("(exit %d, %.3fs)\n\n", pc.ExitCode, pc.Time)
		}
		if result.Result != nil {
			fmt.Println("--- result ---")
			fmt.Println(*result.Result)
		}
		if result.Environment != nil {
			fmt.Printf("saved environment: %s\n", *result.Environment)
		}
		return nil
	},
}

func init() {
	execCmd.Flags().String("environment", "", "path to a gzip tar overlay to upload alongside the config")
}
