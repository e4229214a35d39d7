package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/farstore/registry-sync/internal/app"
)

// NewAPIKeyCommand creates the apikey command group.
func NewAPIKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the private routes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <domain>",
		Short: "Issue a new API key for a domain",
		Long: `Issue a new API key for a domain. Running servers pick it up on their next
apikeys task run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openForAdmin(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer application.Stop(cmd.Context())

			key, err := application.Store.CreateAPIKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(rootOpts.out(), key.Key)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys and the domain each authorizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openForAdmin(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer application.Stop(cmd.Context())

			keys, err := application.Store.SelectAPIKeys(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(rootOpts.out(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tKEY")
			for _, k := range keys {
				fmt.Fprintf(tw, "%s\t%s\n", k.Domain, k.Key)
			}
			return tw.Flush()
		},
	})

	return cmd
}

func openForAdmin(cmd *cobra.Command, rootOpts *RootOptions) (*app.Application, error) {
	cfg, log, err := rootOpts.load()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, app.Stores{}, app.Options{}, log)
}
