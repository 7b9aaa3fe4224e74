package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentd/internal/config"
)

var configureSecret bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Read and write the config store",
	Long: `Read and write keys of the config store (config.yaml and secrets.yaml
under the agentd config directory). Environment variables named after a key
take precedence over stored values.

Examples:
  agentd configure set AGENTD_PROVIDER anthropic
  agentd configure set --secret ANTHROPIC_API_KEY sk-...
  agentd configure get AGENTD_MODEL`,
}

var configureSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.OpenStore(config.GetPaths().Config)
		if err != nil {
			return err
		}
		if configureSecret {
			return store.SetSecret(args[0], args[1])
		}
		return store.SetParam(args[0], args[1])
	},
}

var configureGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a key; secrets are only reported as set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.OpenStore(config.GetPaths().Config)
		if err != nil {
			return err
		}
		if configureSecret {
			_, err := store.GetSecret(args[0])
			switch {
			case errors.Is(err, config.ErrKeyNotFound):
				fmt.Println("not set")
				return nil
			case err != nil:
				return err
			}
			fmt.Println("set")
			return nil
		}
		v, err := store.GetParam(args[0])
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	},
}

var configureRemoveCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"remove"},
	Short:   "Remove a key",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := config.OpenStore(config.GetPaths().Config)
		if err != nil {
			return err
		}
		return store.Delete(args[0], configureSecret)
	},
}

func init() {
	configureCmd.PersistentFlags().BoolVar(&configureSecret, "secret", false, "Operate on secrets.yaml")
	configureCmd.AddCommand(configureSetCmd, configureGetCmd, configureRemoveCmd)
}
