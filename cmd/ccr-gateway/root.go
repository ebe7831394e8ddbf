package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "config.yaml"

	defaultConfigTemplate = `# ccr-gateway configuration
server:
  listen: "127.0.0.1:8787"
  api_key: ""
  auth:
    type: bearer
    api_key: ""
  control_api:
    listen: "127.0.0.1:8788"
    read_token: ""
    full_token: ""
  timeout_ms: 120000
  max_concurrent: 64
  enable_http2: false

logging:
  level: info
  format: json

cache:
  mode: disabled

health:
  health_check:
    enabled: true
    interval_ms: 10000
  circuit_breaker:
    failure_threshold: 5
    open_duration_ms: 30000
    half_open_probes: 1

validation:
  disable_connectivity: false

routing:
  strategy: failover
  failover_timeout: 5000

providers:
  - name: anthropic
    type: anthropic
    base_url: https://api.anthropic.com
    enabled: true
    keys:
      - key: "${ANTHROPIC_API_KEY}"

router:
  default: anthropic,claude-*
  background: anthropic,claude-*
  think: anthropic,claude-*
  longContext: anthropic,claude-*

routerGroups: {}
`
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ccr-gateway",
	Short: "ccr-gateway routes coding-assistant requests to configured LLM providers",
	Long: `ccr-gateway is a request-routing gateway that sits between a coding-assistant
client speaking the Anthropic chat-completions protocol and heterogeneous LLM
providers, offering live-reloadable routing and a control plane for switching
router groups, validating config changes, and rolling back bad reloads.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
