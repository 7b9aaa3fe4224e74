package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentd/internal/provider"
)

var providersVerbose bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported providers and whether they are configured",
	Args:  cobra.NoArgs,
	RunE:  runProviders,
}

func init() {
	providersCmd.Flags().BoolVarP(&providersVerbose, "verbose", "v", false, "Show config keys and known models")
}

func runProviders(cmd *cobra.Command, args []string) error {
	_, cfg, store, err := openConfig()
	if err != nil {
		return err
	}
	active := cfg.Provider.Name
	if v, err := store.GetParam("AGENTD_PROVIDER"); err == nil && v != "" {
		active = v
	}

	ok := color.New(color.FgGreen).Sprint("yes")
	missing := color.New(color.FgYellow).Sprint("no")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tDEFAULT MODEL\tCONFIGURED\tACTIVE\t")
	for _, meta := range provider.DefaultRegistry().Metadata() {
		configured := missing
		if provider.Configured(store, meta) {
			configured = ok
		}
		mark := ""
		if meta.Name == active {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", meta.Name, meta.DefaultModel, configured, mark)
		if providersVerbose {
			for _, key := range meta.ConfigKeys {
				var flags []string
				if key.Required {
					flags = append(flags, "required")
				}
				if key.Secret {
					flags = append(flags, "secret")
				}
				fmt.Fprintf(w, "  %s\t%s\t\t\t\n", key.Name, strings.Join(flags, ","))
			}
			if len(meta.KnownModels) > 0 {
				fmt.Fprintf(w, "  models\t%s\t\t\t\n", strings.Join(meta.KnownModels, ", "))
			}
		}
	}
	return w.Flush()
}
