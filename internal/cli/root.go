package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	configPath string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envServer := os.Getenv("SERVER_URL")
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:   "beatbattle-controller",
		Short: "Terminal controller client for a BeatBattle quiz room",
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", envServer, "game server websocket URL, e.g. ws://host:5000/ws")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewJoinCmd(&configPath, &serverURL))
	return cmd
}
