// Package extensions models the declaration feeds through which extensions
// contribute notebook document providers, output renderers, and markdown
// renderers. Each feed delivers full-replace batches: a new batch supersedes
// everything the previous batch declared.
package extensions

import (
	"github.com/zjrosen/plume/internal/notebook"
)

// NotebookDocumentContribution is a statically declared document provider.
type NotebookDocumentContribution struct {
	Extension   notebook.ExtensionMeta
	ViewType    string
	DisplayName string
	Selectors   []notebook.Selector
	// Priority is the raw declared token; anything but "default" is
	// treated as the weaker option priority.
	Priority  string
	Exclusive bool
}

// NotebookRendererContribution is a statically declared output renderer.
type NotebookRendererContribution struct {
	Extension   notebook.ExtensionMeta
	ID          string
	DisplayName string
	EntryPoint  string
	MimeTypes   []string
}

// Validate reports whether the contribution carries every required field.
// Missing fields name themselves so the caller can log a useful warning.
func (c NotebookRendererContribution) Validate() (missing []string) {
	if c.ID == "" {
		missing = append(missing, "id")
	}
	if c.EntryPoint == "" {
		missing = append(missing, "entrypoint")
	}
	if len(c.MimeTypes) == 0 {
		missing = append(missing, "mimeTypes")
	}
	return missing
}

// MarkdownRendererContribution is a statically declared markdown-it style
// renderer extension.
type MarkdownRendererContribution struct {
	Extension  notebook.ExtensionMeta
	ID         string
	EntryPoint string
}
