package notebook

import (
	"sync"
)

// Document is an in-memory notebook document model. Documents are owned
// exclusively by the model registry: one document per URI, disposed exactly
// once. The will-dispose signal fires before the document's state is torn
// down so owners can unregister it while it is still fully readable.
type Document struct {
	uri       Resource
	viewType  string
	transient TransientOptions

	mu        sync.Mutex
	cells     []CellData
	metadata  DocumentMetadata
	disposed  bool
	listeners map[int]func()
	nextToken int
}

// NewDocument constructs a document from an opened payload.
func NewDocument(viewType string, uri Resource, data NotebookData, transient TransientOptions) *Document {
	cells := make([]CellData, len(data.Cells))
	copy(cells, data.Cells)
	return &Document{
		uri:       uri,
		viewType:  viewType,
		transient: transient,
		cells:     cells,
		metadata:  data.Metadata,
		listeners: make(map[int]func()),
	}
}

// URI returns the document's resource URI.
func (d *Document) URI() Resource { return d.uri }

// ViewType returns the view type the document was opened with.
func (d *Document) ViewType() string { return d.viewType }

// TransientOptions returns the transient-options configuration.
func (d *Document) TransientOptions() TransientOptions { return d.transient }

// Cells returns a copy of the document's cell sequence.
func (d *Document) Cells() []CellData {
	d.mu.Lock()
	defer d.mu.Unlock()
	cells := make([]CellData, len(d.cells))
	copy(cells, d.cells)
	return cells
}

// CellCount returns the number of cells.
func (d *Document) CellCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cells)
}

// Metadata returns the document metadata.
func (d *Document) Metadata() DocumentMetadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metadata
}

// IsTrusted reports whether the document's content is trusted.
func (d *Document) IsTrusted() bool {
	return d.Metadata().Trusted
}

// SetTrusted updates the trusted flag.
func (d *Document) SetTrusted(trusted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata.Trusted = trusted
}

// IsDisposed reports whether the document has been disposed.
func (d *Document) IsDisposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}

// OnWillDispose registers a listener fired synchronously at the start of
// disposal, before document state is released. The returned function
// detaches the listener.
func (d *Document) OnWillDispose(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	token := d.nextToken
	d.nextToken++
	d.listeners[token] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, token)
	}
}

// Dispose tears down the document. Will-dispose listeners fire first, in
// registration order; a second Dispose is a no-op.
func (d *Document) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true

	tokens := make([]int, 0, len(d.listeners))
	for token := range d.listeners {
		tokens = append(tokens, token)
	}
	// Registration order: tokens are monotonically increasing.
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j] < tokens[j-1]; j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
	fns := make([]func(), 0, len(tokens))
	for _, token := range tokens {
		fns = append(fns, d.listeners[token])
	}
	d.listeners = make(map[int]func())
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}

	d.mu.Lock()
	d.cells = nil
	d.mu.Unlock()
}
