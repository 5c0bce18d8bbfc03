// Package notebook provides the foundational types for the notebook
// provider registry: resource URIs, provider/kernel/renderer registration
// records, cell payloads, and the ordered mime-type entries produced by
// output resolution.
package notebook

import (
	"net/url"
	"strings"
)

// SchemeUntitled is the URI scheme of new, unsaved documents. Resources in
// this scheme have no path worth matching, so selector matching treats them
// as matching every provider.
const SchemeUntitled = "untitled"

// BuiltinRendererID identifies the built-in renderer for mime types the
// editor can display without any contributed renderer.
const BuiltinRendererID = "plume.builtinRenderer"

// UnavailableRendererID is the sentinel renderer id emitted when no renderer
// (contributed or built-in) can handle a mime type. Callers render a
// user-facing placeholder for these entries.
const UnavailableRendererID = "plume.unavailableRenderer"

// Resource is a URI identifying a notebook document.
type Resource string

// Scheme returns the URI scheme, or "" if the resource is not a valid URI.
func (r Resource) Scheme() string {
	if u, err := url.Parse(string(r)); err == nil && u.Scheme != "" {
		return u.Scheme
	}
	if i := strings.Index(string(r), ":"); i > 0 {
		return string(r)[:i]
	}
	return ""
}

// Path returns the path component of the resource.
func (r Resource) Path() string {
	u, err := url.Parse(string(r))
	if err != nil {
		return string(r)
	}
	if u.Path != "" {
		return u.Path
	}
	return u.Opaque
}

// Basename returns the last path segment of the resource.
func (r Resource) Basename() string {
	p := r.Path()
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func (r Resource) String() string {
	return string(r)
}

// ProviderPriority ranks document providers when several match a resource.
type ProviderPriority string

const (
	// PriorityDefault marks the provider that should open matching
	// resources unless the user chose otherwise.
	PriorityDefault ProviderPriority = "default"
	// PriorityOption marks a provider offered as an alternative only.
	PriorityOption ProviderPriority = "option"
)

// ParsePriority converts a declared priority token into a ProviderPriority.
// Anything other than the literal "default" maps to PriorityOption.
func ParsePriority(token string) ProviderPriority {
	if token == string(PriorityDefault) {
		return PriorityDefault
	}
	return PriorityOption
}

// ExtensionMeta identifies the extension that owns a contribution.
type ExtensionMeta struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Location    string `json:"location"`
}

// ProviderInfo is a declarative document-provider registration.
// ViewType is unique across the provider store; re-adding an existing
// view type is a no-op (first registration wins).
type ProviderInfo struct {
	ViewType            string           `json:"viewType"`
	DisplayName         string           `json:"displayName"`
	Selectors           []Selector       `json:"selectors"`
	Priority            ProviderPriority `json:"priority"`
	Extension           ExtensionMeta    `json:"extension"`
	DynamicContribution bool             `json:"dynamicContribution"`
	Exclusive           bool             `json:"exclusive"`
}

// MatchesResource reports whether any of the provider's selectors match
// the resource. Providers with no selectors match nothing.
func (p ProviderInfo) MatchesResource(r Resource) bool {
	for _, sel := range p.Selectors {
		if sel.Matches(r) {
			return true
		}
	}
	return false
}

// RendererInfo is an output renderer registration. Mime types are matched
// by exact set membership, never by globbing.
type RendererInfo struct {
	ID          string
	DisplayName string
	EntryPoint  string
	Extension   ExtensionMeta
	MimeTypes   []string
}

// Handles reports whether the renderer declares the given mime type.
func (r RendererInfo) Handles(mimeType string) bool {
	for _, m := range r.MimeTypes {
		if m == mimeType {
			return true
		}
	}
	return false
}

// CellKind distinguishes code cells from markup cells.
type CellKind int

const (
	CellKindMarkup CellKind = 1
	CellKindCode   CellKind = 2
)

// OutputItem is a single representation of an output in one mime type.
// The same output may carry duplicate mime types; resolution deduplicates.
type OutputItem struct {
	MimeType string
	Value    []byte
}

// Output is one execution output of a code cell.
type Output struct {
	Items []OutputItem
}

// MimeTypes returns the mime types carried by the output, in declaration
// order, duplicates included.
func (o Output) MimeTypes() []string {
	mimes := make([]string, 0, len(o.Items))
	for _, item := range o.Items {
		mimes = append(mimes, item.MimeType)
	}
	return mimes
}

// CellData is the payload of a single notebook cell.
type CellData struct {
	Kind     CellKind
	Source   string
	Language string
	Outputs  []Output
	Metadata map[string]any
}

// DocumentMetadata is notebook-level metadata.
type DocumentMetadata struct {
	Trusted  bool
	Editable bool
	Custom   map[string]any
}

// NotebookData is the cell/metadata payload a controller produces when
// opening a document and consumes when saving one.
type NotebookData struct {
	Cells    []CellData
	Metadata DocumentMetadata
}

// TransientOptions configures which parts of a document are transient,
// i.e. never written back by save.
type TransientOptions struct {
	TransientOutputs  bool            `json:"transientOutputs"`
	TransientMetadata map[string]bool `json:"transientMetadata"`
}

// OrderedMimeType is one entry of a resolved renderer plan: render this
// mime type with this renderer, under this trust flag. Callers try entries
// in order until one renders successfully.
type OrderedMimeType struct {
	MimeType   string
	RendererID string
	IsTrusted  bool
}

// Kernel describes a single execution kernel offered by a kernel provider.
type Kernel struct {
	ID          string
	Label       string
	Description string
	IsPreferred bool
}
