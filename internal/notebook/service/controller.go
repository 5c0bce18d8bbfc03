package service

import (
	"context"

	"github.com/zjrosen/plume/internal/notebook"
)

// ViewOptions are the editor-facing options a live controller declares.
// They feed the dynamic provider-info entry synthesized on registration.
type ViewOptions struct {
	DisplayName string
	Selectors   []notebook.Selector
	Priority    notebook.ProviderPriority
	Exclusive   bool
}

// Controller is the per-viewType document controller an extension
// registers. The notebook service delegates all document I/O to it.
type Controller interface {
	// Options returns the controller's view options. ok is false when the
	// controller declares none; no dynamic provider entry is synthesized
	// in that case.
	Options() (opts ViewOptions, ok bool)

	// Open materializes the document payload for a resource. backupID,
	// when non-empty, names a previous backup to restore from.
	Open(ctx context.Context, uri notebook.Resource, backupID string) (notebook.NotebookData, notebook.TransientOptions, error)

	// Save writes the document back to its resource. It reports whether
	// the controller performed the save.
	Save(ctx context.Context, uri notebook.Resource) (bool, error)

	// SaveAs writes the document to a new resource.
	SaveAs(ctx context.Context, uri, target notebook.Resource) (bool, error)

	// Backup snapshots the document and returns a backup id for later
	// restoration through Open.
	Backup(ctx context.Context, uri notebook.Resource) (string, error)

	// ResolveEditor notifies the controller that an editor is being
	// attached to the document.
	ResolveEditor(ctx context.Context, uri notebook.Resource, editorID string) error

	// ReceiveMessage delivers a fire-and-forget message from an editor
	// webview to the controller.
	ReceiveMessage(editorID string, message any)
}
