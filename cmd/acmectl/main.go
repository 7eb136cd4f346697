// Command acmectl is the CLI surface of a single `renew
// <certname>` subcommand that triggers the order state machine. Grounded on
// the cobra root-command style of _examples/jeremyhahn-go-trusted-platform's
// cmd/ package (a package-level *cobra.Command wired to a shared app
// context) and on _examples/kgretzky-evilginx2's viper.Viper-backed config
// loading.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relayforge/acmed/config"
	"github.com/relayforge/acmed/errors"
	"github.com/relayforge/acmed/internal/acme"
	"github.com/relayforge/acmed/internal/certstore"
	"github.com/relayforge/acmed/internal/httpstep"
	"github.com/relayforge/acmed/internal/obslog"
	"github.com/relayforge/acmed/internal/task"
)

// exitCode maps the acme error taxonomy (internal/acme/errors.go) onto
// distinct process exit codes, so a systemd unit or supervisor wrapping
// acmectl can tell a config mistake (2) apart from a store lock contention
// it should just retry (3) without scraping stderr text.
func exitCode(err error) int {
	var lockedErr *certstore.LockedError
	var cfgErr *acme.ConfigError
	switch {
	case errors.As(err, &lockedErr):
		return 3
	case errors.As(err, &cfgErr):
		return 2
	default:
		return 1
	}
}

const defaultTimeout = 30 * time.Second

var (
	cfgFile string
	store   = certstore.New()
	logger  = obslog.New(os.Stdout)
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "acmectl",
		Short: "Drive ACMEv2 certificate renewals for a running proxy",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "acmed.toml", "path to the acmed config file")
	root.AddCommand(renewCmd())
	return root
}

func renewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew <certname>",
		Short: "Renew a certificate previously bound to an acme config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certName := args[0]

			v := viper.New()
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("acmectl: reading config: %w", err)
			}

			registry, err := config.LoadACMERegistry(v)
			if err != nil {
				return err
			}

			rn := &acme.Renewer{
				Registry: registry,
				Store:    store,
				Runtime:  task.New(0),
				Driver:   httpstep.New(defaultTimeout, logger.Logger),
				Log:      logger.Logger,
			}

			if err := rn.Renew(certName); err != nil {
				return fmt.Errorf("acmectl: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "renewal for %q started\n", certName)
			return nil
		},
	}
}
