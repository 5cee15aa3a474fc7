package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfigPath string
	flagAPIBase    string
	flagActorID    string
	flagActorRole  string
	flagToken      string
)

// rootCmd is the base command for the pickgate CLI
var rootCmd = &cobra.Command{
	Use:   "pickgate",
	Short: "pickgate policy evaluation engine",
	Long: `pickgate converts model predictions into pick / no-bet / hard-stop
decisions through versioned policy gates and a persistent risk circuit
breaker. Run 'pickgate serve' to start the engine, or use the other
commands against a running instance.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pickgate - policy evaluation engine")
		fmt.Println("Use 'pickgate serve' to start the engine")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "config/pickgate.yaml", "Service config file")
	rootCmd.PersistentFlags().StringVar(&flagAPIBase, "api", "http://127.0.0.1:8080", "Base URL of a running pickgate instance")
	rootCmd.PersistentFlags().StringVar(&flagActorID, "actor", "", "Actor id for mutating operations")
	rootCmd.PersistentFlags().StringVar(&flagActorRole, "role", "user", "Actor role: user, ops or admin")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Gateway bearer token (prompted when omitted on a terminal)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(hardstopCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
