// autodeployctl is the command-line client for an autodeploy server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/client"
	"github.com/Littlefish319/autodeploy-agent-233/pkg/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorMsg("%v", err))
		os.Exit(1)
	}
}

// connFlags are shared by every subcommand that talks to the server.
type connFlags struct {
	server string
}

func (f *connFlags) client() (*client.Client, error) {
	return client.New(f.server)
}

func rootCmd() *cobra.Command {
	var (
		debug bool
		cf    connFlags
	)

	root := &cobra.Command{
		Use:           "autodeployctl",
		Short:         "Chat with an autodeploy server and follow its pipeline runs",
		Version:       version.Full(),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&cf.server, "server", envOr("AUTODEPLOY_URL", "http://localhost:8080"), "autodeploy server URL")

	root.AddCommand(sessionCmd(&cf))
	root.AddCommand(submitCmd(&cf))
	root.AddCommand(cancelCmd(&cf))
	root.AddCommand(statusCmd(&cf))
	root.AddCommand(watchCmd(&cf))
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
