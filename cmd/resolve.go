package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/plume/internal/notebook"
	"github.com/zjrosen/plume/internal/notebook/display"
	"github.com/zjrosen/plume/internal/notebook/rendererstore"
)

var (
	resolveMimes     []string
	resolveUntrusted bool
	resolveRenderers []string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Compute the ordered renderer plan for a set of output mime types",
	Long: `Compute the ordered (mimeType, rendererId, isTrusted) plan an editor
would try for an output, using the configured display order.

Renderer registrations normally come from extensions; --renderer seeds
them for inspection as id=mimeType pairs.

Examples:
  # Plan for a JSON/plain-text output
  plume resolve --mime application/json --mime text/plain

  # Same output in an untrusted document
  plume resolve --mime application/json --untrusted

  # With a contributed renderer
  plume resolve --mime application/json --renderer json-viewer=application/json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateConfig(); err != nil {
			return err
		}
		if len(resolveMimes) == 0 {
			return fmt.Errorf("at least one --mime is required")
		}

		store := rendererstore.New()
		for _, spec := range resolveRenderers {
			id, mimeType, ok := splitRendererSpec(spec)
			if !ok {
				return fmt.Errorf("invalid --renderer %q, expected id=mimeType", spec)
			}
			store.Add(notebook.RendererInfo{ID: id, MimeTypes: []string{mimeType}})
		}

		defaults := display.DefaultOrder
		if cfg.Editor.ScreenReaderOptimized() {
			defaults = display.AccessibleOrder
		}
		order := display.NewOrder(cfg.Notebook.DisplayOrder, defaults)

		plan := display.ResolvePlan(resolveMimes, !resolveUntrusted, order, store)

		type entry struct {
			MimeType   string `json:"mimeType"`
			RendererID string `json:"rendererId"`
			IsTrusted  bool   `json:"isTrusted"`
		}
		entries := make([]entry, 0, len(plan))
		for _, p := range plan {
			entries = append(entries, entry{MimeType: p.MimeType, RendererID: p.RendererID, IsTrusted: p.IsTrusted})
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	},
}

func splitRendererSpec(spec string) (id, mimeType string, ok bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			if i == 0 || i == len(spec)-1 {
				return "", "", false
			}
			return spec[:i], spec[i+1:], true
		}
	}
	return "", "", false
}

func init() {
	resolveCmd.Flags().StringArrayVarP(&resolveMimes, "mime", "m", nil, "Output mime type (repeatable, in declaration order)")
	resolveCmd.Flags().BoolVar(&resolveUntrusted, "untrusted", false, "Treat the document as untrusted")
	resolveCmd.Flags().StringArrayVar(&resolveRenderers, "renderer", nil, "Seed a renderer registration as id=mimeType (repeatable)")
	rootCmd.AddCommand(resolveCmd)
}
