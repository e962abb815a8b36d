// Package relaycmder
package relaycmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/relay/cmd/relay/config"
	initcmder "github.com/papercomputeco/relay/cmd/relay/init"
	servecmder "github.com/papercomputeco/relay/cmd/relay/serve"
	versioncmder "github.com/papercomputeco/relay/cmd/version"
)

const relayLongDesc string = `Relay streams generated text from an upstream model to browsers.

A consumer POSTs a prompt to /stream and receives the upstream's incremental
output re-encoded as a uniform event stream:
  data: {"content":"..."}
  data: {"error":"..."}
  data: [DONE]

Get started:
  relay init --preset deepseek      Create ./.relay/config.toml
  relay config set upstream.api_key <key>
  relay serve                       Run the relay server`

const relayShortDesc string = "Relay - streaming model output relay"

func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        relayShortDesc,
		Long:         relayLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .relay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
