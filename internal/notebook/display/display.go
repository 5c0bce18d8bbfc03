// Package display implements the output mime-type ordering and renderer
// fallback algorithm. Given an output's mime types, the current display
// order and the renderer store, it produces the ordered plan of
// (mimeType, rendererID, isTrusted) entries a caller tries in sequence.
package display

import (
	"sort"

	"github.com/zjrosen/plume/internal/notebook"
)

// DefaultOrder is the built-in mime-type preference list.
var DefaultOrder = []string{
	"application/json",
	"application/javascript",
	"text/html",
	"image/svg+xml",
	"text/markdown",
	"image/png",
	"image/jpeg",
	"text/plain",
}

// AccessibleOrder replaces DefaultOrder when screen-reader optimization is
// on; textual representations come first.
var AccessibleOrder = []string{
	"text/markdown",
	"application/json",
	"text/plain",
	"text/html",
	"image/svg+xml",
	"image/png",
	"image/jpeg",
}

// coreMimeTypes are the types the editor renders natively, without any
// contributed renderer.
var coreMimeTypes = map[string]bool{
	"application/json":       true,
	"application/javascript": true,
	"text/html":              true,
	"image/svg+xml":          true,
	"text/markdown":          true,
	"image/png":              true,
	"image/jpeg":             true,
	"text/plain":             true,
}

// alwaysSecure mime types render through the built-in renderer even in
// untrusted documents.
var alwaysSecure = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"image/png":     true,
	"image/jpeg":    true,
}

// SupportedByCore reports whether the editor can display the mime type
// without a contributed renderer.
func SupportedByCore(mimeType string) bool {
	return coreMimeTypes[mimeType]
}

// IsAlwaysSecure reports whether built-in rendering of the mime type is
// safe regardless of document trust.
func IsAlwaysSecure(mimeType string) bool {
	return alwaysSecure[mimeType]
}

// Order is a pair of preference lists. The user list outranks the default
// list; the default list is either DefaultOrder or AccessibleOrder
// depending on the accessibility state.
type Order struct {
	user     []string
	defaults []string
}

// NewOrder builds an Order from a user-configured list and a default list.
func NewOrder(user, defaults []string) Order {
	return Order{user: user, defaults: defaults}
}

// Sort deduplicates the mime types (first occurrence wins) and orders them:
// entries on the user list first, by user-list position; then entries on
// the default list, by default-list position; everything else keeps its
// deduplicated relative order at the end.
func (o Order) Sort(mimeTypes []string) []string {
	seen := make(map[string]bool, len(mimeTypes))
	deduped := make([]string, 0, len(mimeTypes))
	for _, m := range mimeTypes {
		if seen[m] {
			continue
		}
		seen[m] = true
		deduped = append(deduped, m)
	}

	userIdx := indexOf(o.user)
	defaultIdx := indexOf(o.defaults)

	sort.SliceStable(deduped, func(i, j int) bool {
		ui, uok := userIdx[deduped[i]]
		uj, ujok := userIdx[deduped[j]]
		switch {
		case uok && ujok:
			return ui < uj
		case uok:
			return true
		case ujok:
			return false
		}

		di, dok := defaultIdx[deduped[i]]
		dj, djok := defaultIdx[deduped[j]]
		switch {
		case dok && djok:
			return di < dj
		case dok:
			return true
		case djok:
			return false
		}
		// Neither tracked: stable sort keeps dedup order.
		return false
	})

	return deduped
}

func indexOf(list []string) map[string]int {
	idx := make(map[string]int, len(list))
	for i, m := range list {
		if _, exists := idx[m]; !exists {
			idx[m] = i
		}
	}
	return idx
}

// RendererSource supplies the renderers registered for a mime type, in
// registration order.
type RendererSource interface {
	GetContributedRenderer(mimeType string) []notebook.RendererInfo
}

// ResolvePlan computes the ordered renderer plan for an output's mime
// types. Every input mime type contributes at least one entry: matching
// renderers in registration order, the built-in renderer where the type is
// core-supported, or the unavailable-renderer sentinel when nothing can
// display it. Identical inputs always yield an identical plan.
func ResolvePlan(mimeTypes []string, trusted bool, order Order, renderers RendererSource) []notebook.OrderedMimeType {
	var plan []notebook.OrderedMimeType
	for _, mimeType := range order.Sort(mimeTypes) {
		matched := renderers.GetContributedRenderer(mimeType)
		for _, info := range matched {
			plan = append(plan, notebook.OrderedMimeType{
				MimeType:   mimeType,
				RendererID: info.ID,
				IsTrusted:  trusted,
			})
		}
		switch {
		case SupportedByCore(mimeType):
			plan = append(plan, notebook.OrderedMimeType{
				MimeType:   mimeType,
				RendererID: notebook.BuiltinRendererID,
				IsTrusted:  IsAlwaysSecure(mimeType) || trusted,
			})
		case len(matched) == 0:
			plan = append(plan, notebook.OrderedMimeType{
				MimeType:   mimeType,
				RendererID: notebook.UnavailableRendererID,
				IsTrusted:  trusted,
			})
		}
	}
	return plan
}
