package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccrouter/gateway/internal/config"
)

// closeConn closes a network connection, logging any error.
// Close errors are often not actionable in read-only contexts.
func closeConn(c net.Conn) {
	if err := c.Close(); err != nil {
		// Log but ignore - connection cleanup is best-effort
		fmt.Fprintf(os.Stderr, "warning: close error: %v\n", err)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check if ccr-gateway server is running",
	Long: `Check the health status of a running ccr-gateway server by querying
its /health endpoint.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	// Load config to get server listen address
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFileForStatus()
	}

	return checkStatusWithConfig(cmd, configPath)
}

// checkStatusWithConfig checks server health using the config at the given path.
func checkStatusWithConfig(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	err = checkHealth(cfg.Server.Listen)
	if err != nil {
		cmd.Printf("✗ ccr-gateway is not running (%s)\n", cfg.Server.Listen)
		return err
	}

	cmd.Printf("✓ ccr-gateway is running (%s)\n", cfg.Server.Listen)
	return nil
}

func findConfigFileForStatus() string {
	home, _ := os.UserHomeDir()
	return findConfigInWithHome(".", home)
}

// findConfigIn returns the config file path inside dir if it exists there,
// or the bare default name otherwise.
func findConfigIn(dir string) string {
	p := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return defaultConfigFile
}

// findConfigInWithHome checks workDir first, then home/.config/ccr-gateway/,
// falling back to the bare default name if neither has a config file.
func findConfigInWithHome(workDir, home string) string {
	if p := filepath.Join(workDir, defaultConfigFile); fileAt(p) {
		return p
	}
	if home != "" {
		p := filepath.Join(home, ".config", "ccr-gateway", defaultConfigFile)
		if fileAt(p) {
			return p
		}
	}
	return defaultConfigFile
}

func fileAt(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// checkHealth performs an HTTP health check against the server's listen address.
// Sends a raw HTTP GET request to /health endpoint without using http.Client.
func checkHealth(listenAddr string) error {
	if listenAddr == "" {
		return fmt.Errorf("server listen address is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer closeConn(conn)

	// Send HTTP GET request directly
	_, err = fmt.Fprintf(conn, "GET /health HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	// Read response status line
	resp := bufio.NewReader(conn)
	line, err := resp.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// Parse status: "HTTP/1.1 200 OK"
	if len(line) >= 12 && line[9:12] == "200" {
		return nil
	}
	return fmt.Errorf("health check failed: %s", line)
}
