package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tbdash",
		Short: "Pool, pump and energy dashboard for ThingsBoard",
		Long: `tbdash keeps a live dashboard of pools, pumps and energy meters from a
ThingsBoard tenant and serves it on a local HTTP and WebSocket API.

Sign in once with 'tbdash login'; the token pair is kept in the configured
credential store and refreshed automatically.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $TBDASH_CONFIG, then "+defaultConfigPath+" if present)")

	cmd.AddCommand(
		newServeCmd(opts),
		newLoginCmd(opts),
		newSignupCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newDevicesCmd(opts),
		newHistoryCmd(opts),
		newPumpCmd(opts),
	)
	return cmd
}

// resolveConfigPath picks the config file. An empty result means defaults
// plus environment overrides.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv("TBDASH_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
