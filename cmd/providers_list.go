package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/plume/internal/memento"
	"github.com/zjrosen/plume/internal/notebook"
	"github.com/zjrosen/plume/internal/notebook/providerstore"
)

var providersResource string

var providersListCmd = &cobra.Command{
	Use:   "providers:list",
	Short: "List persisted notebook provider registrations",
	Long: `List the notebook document providers persisted from previous sessions
as JSON.

Use --resource to show only the providers whose selectors match a URI.

Examples:
  # List all persisted providers
  plume providers:list

  # Providers matching a resource
  plume providers:list --resource file:///work/analysis.ipynb

  # Parse specific fields with jq
  plume providers:list | jq '.[].viewType'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateConfig(); err != nil {
			return err
		}

		mementos, err := memento.OpenSQLiteStore(cfg.Storage.MementoPath)
		if err != nil {
			return fmt.Errorf("opening memento store: %w", err)
		}
		defer func() { _ = mementos.Close() }()

		store := providerstore.New(mementos)

		var infos []notebook.ProviderInfo
		if cmd.Flags().Changed("resource") {
			infos = store.GetContributedNotebook(notebook.Resource(providersResource))
		} else {
			infos = store.List()
		}
		if infos == nil {
			infos = []notebook.ProviderInfo{}
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	},
}

func init() {
	providersListCmd.Flags().StringVarP(&providersResource, "resource", "r", "", "Filter by resource URI (selector match)")
	rootCmd.AddCommand(providersListCmd)
}
