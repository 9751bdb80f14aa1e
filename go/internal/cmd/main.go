package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const releaseVersion = "0.1.0"

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	var cfg *Config
	v := viper.New()
	v.SetEnvKeyReplacer(replacer())

	root := &cobra.Command{
		Use:           "timeline",
		Short:         "Real-time music timeline guessing game server.",
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Msg("could not load .env file")
			}

			loaded, err := loadConfig(v.GetString("config"))
			if err != nil {
				return err
			}
			applyOverrides(loaded, v)
			if err := loaded.validate(); err != nil {
				return err
			}
			if err := setupLogging(loaded.Server.LogLevel); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	fs := root.PersistentFlags()
	fs.StringP("config", "c", "", "path to YAML config file (env: CONFIG)")
	fs.IntP("port", "p", 8080, "port to listen on (env: PORT)")
	fs.String("public-url", "", "base URL used in invite links (env: PUBLIC_URL)")
	fs.String("log-level", "info", "log level (env: LOG_LEVEL)")
	fs.String("store", storeMemory, "room store: memory or postgres (env: STORE)")
	fs.String("nats-url", "", "NATS server for multi-instance fan-out, empty disables (env: NATS_URL)")

	fs.VisitAll(bindFlag(v))

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and websocket server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return serve(ctx, cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the rooms and songs tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "seed <songs.json>",
			Short: "Import songs into the Postgres catalog",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				added, err := seed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d songs\n", added)
				return nil
			},
		},
	)

	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetVersionTemplate("timeline v{{.Version}}\n")
	return root
}

func replacer() *strings.Replacer {
	return strings.NewReplacer("-", "_")
}

// bindFlag lets each flag also be set through the matching upper case
// environment variable.
func bindFlag(v *viper.Viper) func(*pflag.Flag) {
	return func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
	}
}
