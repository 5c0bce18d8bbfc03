// Package service is the notebook orchestrator. It composes the provider,
// kernel, renderer, and model stores behind one registration/query surface:
// controller registration and lazy activation, document I/O delegation,
// kernel enumeration fan-out, and the output mime-type resolution plan.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/plume/internal/activation"
	"github.com/zjrosen/plume/internal/cachemanager"
	"github.com/zjrosen/plume/internal/config"
	"github.com/zjrosen/plume/internal/editortypes"
	"github.com/zjrosen/plume/internal/extensions"
	"github.com/zjrosen/plume/internal/log"
	"github.com/zjrosen/plume/internal/notebook"
	"github.com/zjrosen/plume/internal/notebook/display"
	"github.com/zjrosen/plume/internal/notebook/kernelstore"
	"github.com/zjrosen/plume/internal/notebook/modelregistry"
	"github.com/zjrosen/plume/internal/notebook/providerstore"
	"github.com/zjrosen/plume/internal/notebook/rendererstore"
	"github.com/zjrosen/plume/internal/pubsub"
)

const kernelCacheTTL = 30 * time.Second

type kernelKey string

type kernelQuery struct {
	viewType string
	resource notebook.Resource
}

type controllerEntry struct {
	controller Controller
	extension  notebook.ExtensionMeta
}

// Deps are the collaborators the notebook service composes.
type Deps struct {
	Providers   *providerstore.Store
	Kernels     *kernelstore.Store
	Renderers   *rendererstore.Store
	Models      *modelregistry.Registry
	Activation  activation.Service
	Config      *config.Service
	EditorTypes *editortypes.Registry
	Tracer      trace.Tracer

	DocumentFeed *extensions.Feed[extensions.NotebookDocumentContribution]
	RendererFeed *extensions.Feed[extensions.NotebookRendererContribution]
	MarkdownFeed *extensions.Feed[extensions.MarkdownRendererContribution]
}

// Service is the notebook orchestrator.
type Service struct {
	providers  *providerstore.Store
	kernels    *kernelstore.Store
	renderers  *rendererstore.Store
	models     *modelregistry.Registry
	activation activation.Service
	cfg        *config.Service
	tracer     trace.Tracer

	mu          sync.RWMutex
	controllers map[string]controllerEntry
	markdown    []notebook.RendererInfo
	order       display.Order

	savedBroker *pubsub.Broker[notebook.Resource]
	typesBroker *pubsub.Broker[struct{}]

	kernelCache *cachemanager.ReadThroughCache[kernelKey, []notebook.Kernel, kernelQuery]

	disposeTypesHandler func()
}

// New wires the orchestrator: declaration feeds populate the stores,
// config changes recompute the display order, kernel store changes flush
// the enumeration cache, and a startup watcher self-heals stale persisted
// providers once all extensions have registered. ctx bounds every
// background subscription.
func New(ctx context.Context, deps Deps) *Service {
	s := &Service{
		providers:   deps.Providers,
		kernels:     deps.Kernels,
		renderers:   deps.Renderers,
		models:      deps.Models,
		activation:  deps.Activation,
		cfg:         deps.Config,
		tracer:      deps.Tracer,
		controllers: make(map[string]controllerEntry),
		savedBroker: pubsub.NewBroker[notebook.Resource](),
		typesBroker: pubsub.NewBroker[struct{}](),
	}

	backing := cachemanager.NewInMemoryCacheManager[kernelKey, []notebook.Kernel](
		"kernel-enumeration", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	s.kernelCache = cachemanager.NewReadThroughCache(backing, s.enumerateKernels, false)

	s.recomputeDisplayOrder()

	deps.DocumentFeed.SetHandler(func(batch []extensions.NotebookDocumentContribution) {
		s.providers.SetupHandler(batch)
		s.typesBroker.Publish(pubsub.ChangedEvent, struct{}{})
	})
	deps.RendererFeed.SetHandler(s.handleRendererContributions)
	deps.MarkdownFeed.SetHandler(s.handleMarkdownContributions)

	s.disposeTypesHandler = deps.EditorTypes.RegisterEditorTypesHandler("notebooks", editortypes.HandlerFunc(func() []editortypes.EditorType {
		var types []editortypes.EditorType
		for _, info := range s.providers.List() {
			types = append(types, editortypes.EditorType{ID: info.ViewType, DisplayName: info.DisplayName})
		}
		return types
	}))

	log.SafeGo("display-order-recompute", func() {
		orderChanges := s.cfg.Subscribe(ctx, config.KeyDisplayOrder)
		accessibilityChanges := s.cfg.Subscribe(ctx, config.KeyAccessibilitySupport)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-orderChanges:
				if !ok {
					return
				}
				s.recomputeDisplayOrder()
			case _, ok := <-accessibilityChanges:
				if !ok {
					return
				}
				s.recomputeDisplayOrder()
			}
		}
	})

	log.SafeGo("kernel-cache-invalidate", func() {
		changes := s.kernels.Subscribe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				_ = s.kernelCache.Flush(context.Background())
			}
		}
	})

	log.SafeGo("provider-self-heal", func() {
		if err := s.activation.WhenInstalledExtensionsRegistered(ctx); err != nil {
			return
		}
		s.providers.OnExtensionsRegistered()
	})

	return s
}

func (s *Service) handleRendererContributions(batch []extensions.NotebookRendererContribution) {
	s.renderers.Clear()
	for _, contrib := range batch {
		if missing := contrib.Validate(); len(missing) > 0 {
			log.Warn(log.CatRenderer, "skipping malformed renderer contribution",
				"extension", contrib.Extension.ID, "missing", strings.Join(missing, ","))
			continue
		}
		s.renderers.Add(notebook.RendererInfo{
			ID:          contrib.ID,
			DisplayName: contrib.DisplayName,
			EntryPoint:  contrib.EntryPoint,
			Extension:   contrib.Extension,
			MimeTypes:   contrib.MimeTypes,
		})
	}
	log.Debug(log.CatRenderer, "replaced renderer registrations", "count", len(s.renderers.List()))
}

func (s *Service) handleMarkdownContributions(batch []extensions.MarkdownRendererContribution) {
	infos := make([]notebook.RendererInfo, 0, len(batch))
	for _, contrib := range batch {
		if contrib.ID == "" || contrib.EntryPoint == "" {
			log.Warn(log.CatRenderer, "skipping malformed markdown renderer contribution",
				"extension", contrib.Extension.ID)
			continue
		}
		infos = append(infos, notebook.RendererInfo{
			ID:         contrib.ID,
			EntryPoint: contrib.EntryPoint,
			Extension:  contrib.Extension,
			MimeTypes:  []string{"text/markdown"},
		})
	}

	s.mu.Lock()
	s.markdown = infos
	s.mu.Unlock()
}

func (s *Service) recomputeDisplayOrder() {
	defaults := display.DefaultOrder
	if s.cfg.ScreenReaderOptimized() {
		defaults = display.AccessibleOrder
	}
	order := display.NewOrder(s.cfg.DisplayOrder(), defaults)

	s.mu.Lock()
	s.order = order
	s.mu.Unlock()
	log.Debug(log.CatMime, "display order recomputed", "screenReader", s.cfg.ScreenReaderOptimized())
}

// CanResolve triggers broad-then-narrow activation for the view type and
// reports whether a controller is registered afterwards. Activation is
// lazy; extensions register their controllers from activation handlers.
func (s *Service) CanResolve(ctx context.Context, viewType string) (bool, error) {
	if err := s.activation.ActivateByEvent(ctx, "onNotebook:*"); err != nil {
		return false, err
	}
	if s.hasController(viewType) {
		return true, nil
	}

	if err := s.activation.ActivateByEvent(ctx, "onNotebook:"+viewType); err != nil {
		return false, err
	}
	if s.hasController(viewType) {
		return true, nil
	}

	// Last resort: extensions activating on everything.
	if err := s.activation.ActivateByEvent(ctx, "*"); err != nil {
		return false, err
	}
	return s.hasController(viewType), nil
}

func (s *Service) hasController(viewType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.controllers[viewType]
	return ok
}

// RegisterController registers the document controller for a view type and
// returns a disposal handle. A second registration for the same view type
// fails with ErrDuplicateRegistration. Controllers declaring view options
// get a dynamic provider-info entry when no static declaration exists, and
// their selectors always refresh the stored entry.
func (s *Service) RegisterController(viewType string, ext notebook.ExtensionMeta, ctrl Controller) (func(), error) {
	s.mu.Lock()
	if _, exists := s.controllers[viewType]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("view type %q: %w", viewType, ErrDuplicateRegistration)
	}
	s.controllers[viewType] = controllerEntry{controller: ctrl, extension: ext}
	s.mu.Unlock()

	if opts, ok := ctrl.Options(); ok {
		if _, exists := s.providers.Get(viewType); !exists {
			s.providers.Add(notebook.ProviderInfo{
				ViewType:            viewType,
				DisplayName:         opts.DisplayName,
				Selectors:           opts.Selectors,
				Priority:            opts.Priority,
				Extension:           ext,
				DynamicContribution: true,
				Exclusive:           opts.Exclusive,
			})
		}
		s.providers.UpdateSelectors(viewType, opts.Selectors)
	}

	log.Info(log.CatService, "controller registered", "viewType", viewType, "extension", ext.ID)
	s.typesBroker.Publish(pubsub.ChangedEvent, struct{}{})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.controllers, viewType)
			s.mu.Unlock()
			log.Info(log.CatService, "controller deregistered", "viewType", viewType)
			s.typesBroker.Publish(pubsub.ChangedEvent, struct{}{})
		})
	}, nil
}

func (s *Service) controller(viewType string) (Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.controllers[viewType]
	return entry.controller, ok
}

// resolveController activates and returns the controller for a view type,
// failing with ErrNoProvider when activation produces none.
func (s *Service) resolveController(ctx context.Context, viewType string) (Controller, error) {
	ok, err := s.CanResolve(ctx, viewType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("view type %q: %w", viewType, ErrNoProvider)
	}
	ctrl, _ := s.controller(viewType)
	return ctrl, nil
}

// Open resolves the controller, opens the resource through it, and
// registers the resulting document model. An already-open document is
// returned as-is without touching the controller.
func (s *Service) Open(ctx context.Context, viewType string, uri notebook.Resource, backupID string) (*notebook.Document, error) {
	if doc, ok := s.models.Get(uri); ok {
		return doc, nil
	}

	ctrl, err := s.resolveController(ctx, viewType)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "notebook.open", trace.WithAttributes(
		attribute.String("notebook.view_type", viewType),
		attribute.String("notebook.uri", uri.String()),
	))
	defer span.End()

	data, transient, err := ctrl.Open(ctx, uri, backupID)
	if err != nil {
		return nil, err
	}

	doc, err := s.models.Create(viewType, uri, data, transient)
	if err != nil {
		// Lost a race against a concurrent open of the same URI.
		if existing, ok := s.models.Get(uri); ok {
			return existing, nil
		}
		return nil, err
	}
	return doc, nil
}

// Save delegates to the controller and publishes a document-saved event
// when the controller reports success.
func (s *Service) Save(ctx context.Context, viewType string, uri notebook.Resource) (bool, error) {
	ctrl, err := s.resolveController(ctx, viewType)
	if err != nil {
		return false, err
	}

	ctx, span := s.tracer.Start(ctx, "notebook.save", trace.WithAttributes(
		attribute.String("notebook.view_type", viewType),
		attribute.String("notebook.uri", uri.String()),
	))
	defer span.End()

	saved, err := ctrl.Save(ctx, uri)
	if err != nil {
		return false, err
	}
	if saved {
		s.savedBroker.Publish(pubsub.SavedEvent, uri)
	}
	return saved, nil
}

// SaveAs delegates to the controller; the saved event carries the target.
func (s *Service) SaveAs(ctx context.Context, viewType string, uri, target notebook.Resource) (bool, error) {
	ctrl, err := s.resolveController(ctx, viewType)
	if err != nil {
		return false, err
	}

	ctx, span := s.tracer.Start(ctx, "notebook.save_as", trace.WithAttributes(
		attribute.String("notebook.view_type", viewType),
		attribute.String("notebook.uri", uri.String()),
		attribute.String("notebook.target", target.String()),
	))
	defer span.End()

	saved, err := ctrl.SaveAs(ctx, uri, target)
	if err != nil {
		return false, err
	}
	if saved {
		s.savedBroker.Publish(pubsub.SavedEvent, target)
	}
	return saved, nil
}

// Backup delegates to the controller and returns the backup id.
func (s *Service) Backup(ctx context.Context, viewType string, uri notebook.Resource) (string, error) {
	ctrl, err := s.resolveController(ctx, viewType)
	if err != nil {
		return "", err
	}

	ctx, span := s.tracer.Start(ctx, "notebook.backup", trace.WithAttributes(
		attribute.String("notebook.view_type", viewType),
		attribute.String("notebook.uri", uri.String()),
	))
	defer span.End()

	return ctrl.Backup(ctx, uri)
}

// ResolveEditor passes the editor attach through to the registered
// controller. Without one it is a no-op.
func (s *Service) ResolveEditor(ctx context.Context, viewType string, uri notebook.Resource, editorID string) error {
	ctrl, ok := s.controller(viewType)
	if !ok {
		return nil
	}
	return ctrl.ResolveEditor(ctx, uri, editorID)
}

// ReceiveMessage delivers an editor message to the registered controller.
// Delivery is fire-and-forget; it reports whether a controller was there
// to receive it.
func (s *Service) ReceiveMessage(viewType, editorID string, message any) bool {
	ctrl, ok := s.controller(viewType)
	if !ok {
		return false
	}
	ctrl.ReceiveMessage(editorID, message)
	return true
}

// GetKernels enumerates kernels across every provider matching the view
// type and resource. The fan-out is an all-succeed join: any provider
// failure fails the call. Results are cached until the kernel store
// changes.
func (s *Service) GetKernels(ctx context.Context, viewType string, uri notebook.Resource) ([]notebook.Kernel, error) {
	key := kernelKey(viewType + "|" + uri.String())
	return s.kernelCache.Get(ctx, key, kernelQuery{viewType: viewType, resource: uri}, kernelCacheTTL)
}

func (s *Service) enumerateKernels(ctx context.Context, q kernelQuery) ([]notebook.Kernel, error) {
	providers := s.kernels.Get(q.viewType, q.resource)

	ctx, span := s.tracer.Start(ctx, "notebook.enumerate_kernels", trace.WithAttributes(
		attribute.String("notebook.view_type", q.viewType),
		attribute.Int("notebook.provider_count", len(providers)),
	))
	defer span.End()

	results := make([][]notebook.Kernel, len(providers))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			kernels, err := p.ProvideKernels(ctx, q.resource)
			if err != nil {
				return fmt.Errorf("kernel provider %s: %w", p.Extension.ID, err)
			}
			results[i] = kernels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var kernels []notebook.Kernel
	for _, r := range results {
		kernels = append(kernels, r...)
	}
	return kernels, nil
}

// ResolveOutputPlan computes the ordered (mimeType, rendererID, trust)
// plan for one output of the document, honoring the current display order.
func (s *Service) ResolveOutputPlan(doc *notebook.Document, output notebook.Output) []notebook.OrderedMimeType {
	s.mu.RLock()
	order := s.order
	s.mu.RUnlock()
	return display.ResolvePlan(output.MimeTypes(), doc.IsTrusted(), order, s.renderers)
}

// ListNotebookDocuments returns the URIs of every open notebook model.
func (s *Service) ListNotebookDocuments() []notebook.Resource {
	return s.models.List()
}

// GetContributedNotebookProviders returns the providers whose selectors
// match the resource.
func (s *Service) GetContributedNotebookProviders(resource notebook.Resource) []notebook.ProviderInfo {
	return s.providers.GetContributedNotebook(resource)
}

// GetNotebookProviderInfo returns the provider registered for a view type.
func (s *Service) GetNotebookProviderInfo(viewType string) (notebook.ProviderInfo, bool) {
	return s.providers.Get(viewType)
}

// GetContributedMarkdownRenderers returns the markdown renderer batch.
func (s *Service) GetContributedMarkdownRenderers() []notebook.RendererInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]notebook.RendererInfo, len(s.markdown))
	copy(infos, s.markdown)
	return infos
}

// SubscribeSaved delivers document-saved events until ctx is done.
func (s *Service) SubscribeSaved(ctx context.Context) <-chan pubsub.Event[notebook.Resource] {
	return s.savedBroker.Subscribe(ctx)
}

// SubscribeEditorTypesChanged delivers an event whenever controller or
// provider registrations change the contributed editor types.
func (s *Service) SubscribeEditorTypesChanged(ctx context.Context) <-chan pubsub.Event[struct{}] {
	return s.typesBroker.Subscribe(ctx)
}

// Close detaches the editor-types handler and shuts down the service's
// event brokers.
func (s *Service) Close() {
	if s.disposeTypesHandler != nil {
		s.disposeTypesHandler()
	}
	s.savedBroker.Close()
	s.typesBroker.Close()
}
