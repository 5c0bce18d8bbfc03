package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/plume/internal/activation"
	"github.com/zjrosen/plume/internal/config"
	"github.com/zjrosen/plume/internal/editortypes"
	"github.com/zjrosen/plume/internal/extensions"
	"github.com/zjrosen/plume/internal/memento"
	"github.com/zjrosen/plume/internal/notebook"
	"github.com/zjrosen/plume/internal/notebook/kernelstore"
	"github.com/zjrosen/plume/internal/notebook/modelregistry"
	"github.com/zjrosen/plume/internal/notebook/providerstore"
	"github.com/zjrosen/plume/internal/notebook/rendererstore"
	"github.com/zjrosen/plume/internal/pubsub"
)

type fakeController struct {
	opts     ViewOptions
	hasOpts  bool
	data     notebook.NotebookData
	openErr  error
	opens    int
	saved    bool
	saveErr  error
	backupID string
	resolved []string
	messages []any
}

func (f *fakeController) Options() (ViewOptions, bool) { return f.opts, f.hasOpts }

func (f *fakeController) Open(_ context.Context, _ notebook.Resource, _ string) (notebook.NotebookData, notebook.TransientOptions, error) {
	f.opens++
	return f.data, notebook.TransientOptions{}, f.openErr
}

func (f *fakeController) Save(_ context.Context, _ notebook.Resource) (bool, error) {
	return f.saved, f.saveErr
}

func (f *fakeController) SaveAs(_ context.Context, _, _ notebook.Resource) (bool, error) {
	return f.saved, f.saveErr
}

func (f *fakeController) Backup(_ context.Context, _ notebook.Resource) (string, error) {
	return f.backupID, nil
}

func (f *fakeController) ResolveEditor(_ context.Context, _ notebook.Resource, editorID string) error {
	f.resolved = append(f.resolved, editorID)
	return nil
}

func (f *fakeController) ReceiveMessage(_ string, message any) {
	f.messages = append(f.messages, message)
}

type fixture struct {
	svc         *Service
	host        *activation.Host
	kernels     *kernelstore.Store
	renderers   *rendererstore.Store
	models      *modelregistry.Registry
	providers   *providerstore.Store
	editorTypes *editortypes.Registry
	cfg         *config.Service

	documentFeed *extensions.Feed[extensions.NotebookDocumentContribution]
	rendererFeed *extensions.Feed[extensions.NotebookRendererContribution]
	markdownFeed *extensions.Feed[extensions.MarkdownRendererContribution]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg, err := config.NewService(filepath.Join(t.TempDir(), "plume.yaml"))
	require.NoError(t, err)
	t.Cleanup(cfg.Close)

	f := &fixture{
		host:         activation.NewHost(),
		renderers:    rendererstore.New(),
		models:       modelregistry.New(),
		providers:    providerstore.New(memento.NewInMemoryStore()),
		editorTypes:  editortypes.NewRegistry(),
		cfg:          cfg,
		documentFeed: extensions.NewFeed[extensions.NotebookDocumentContribution](),
		rendererFeed: extensions.NewFeed[extensions.NotebookRendererContribution](),
		markdownFeed: extensions.NewFeed[extensions.MarkdownRendererContribution](),
	}
	f.kernels = kernelstore.New(f.editorTypes)

	f.svc = New(ctx, Deps{
		Providers:    f.providers,
		Kernels:      f.kernels,
		Renderers:    f.renderers,
		Models:       f.models,
		Activation:   f.host,
		Config:       cfg,
		EditorTypes:  f.editorTypes,
		Tracer:       noop.NewTracerProvider().Tracer("test"),
		DocumentFeed: f.documentFeed,
		RendererFeed: f.rendererFeed,
		MarkdownFeed: f.markdownFeed,
	})
	t.Cleanup(f.svc.Close)
	return f
}

func TestService_CanResolve_ActivatesLazily(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{}
	f.host.Handle("onNotebook:jupyter-notebook", func(_ context.Context) error {
		_, err := f.svc.RegisterController("jupyter-notebook", notebook.ExtensionMeta{ID: "ms.jupyter"}, ctrl)
		return err
	})

	ok, err := f.svc.CanResolve(context.Background(), "jupyter-notebook")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestService_CanResolve_WildcardActivation(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{}
	f.host.Handle("*", func(_ context.Context) error {
		_, err := f.svc.RegisterController("late-notebook", notebook.ExtensionMeta{ID: "ext.late"}, ctrl)
		return err
	})

	ok, err := f.svc.CanResolve(context.Background(), "late-notebook")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestService_CanResolve_NothingRegisters(t *testing.T) {
	f := newFixture(t)

	ok, err := f.svc.CanResolve(context.Background(), "ghost-notebook")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestService_RegisterController_Duplicate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, &fakeController{})
	require.NoError(t, err)

	_, err = f.svc.RegisterController("nb", notebook.ExtensionMeta{}, &fakeController{})
	require.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestService_RegisterController_SynthesizesDynamicProvider(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{
		hasOpts: true,
		opts: ViewOptions{
			DisplayName: "SQL Notebook",
			Selectors:   []notebook.Selector{{Include: "*.sqlnb"}},
			Priority:    notebook.PriorityOption,
		},
	}
	dispose, err := f.svc.RegisterController("sql-notebook", notebook.ExtensionMeta{ID: "ext.sql"}, ctrl)
	require.NoError(t, err)

	info, ok := f.providers.Get("sql-notebook")
	require.True(t, ok)
	require.True(t, info.DynamicContribution)
	require.Equal(t, "SQL Notebook", info.DisplayName)

	// Disposal removes the controller but keeps the provider info.
	dispose()
	ok, err = f.svc.CanResolve(context.Background(), "sql-notebook")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok = f.providers.Get("sql-notebook")
	require.True(t, ok)
}

func TestService_RegisterController_RefreshesSelectors(t *testing.T) {
	f := newFixture(t)

	f.providers.Add(notebook.ProviderInfo{
		ViewType:  "nb",
		Selectors: []notebook.Selector{{Include: "*.old"}},
	})

	ctrl := &fakeController{
		hasOpts: true,
		opts:    ViewOptions{Selectors: []notebook.Selector{{Include: "*.new"}}},
	}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	info, _ := f.providers.Get("nb")
	require.Equal(t, "*.new", info.Selectors[0].Include)
	require.False(t, info.DynamicContribution, "static entry is refreshed, not replaced")
}

func TestService_RegisterController_EmitsEditorTypesChanged(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.svc.SubscribeEditorTypesChanged(ctx)

	dispose, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, &fakeController{})
	require.NoError(t, err)
	dispose()
	dispose() // second disposal is a no-op

	for i := 0; i < 2; i++ {
		select {
		case evt := <-events:
			require.Equal(t, pubsub.ChangedEvent, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("expected an editor-types-changed event")
		}
	}
	select {
	case <-events:
		t.Fatal("double disposal must not emit a third event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_Open_NoProvider(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Open(context.Background(), "ghost", "file:///a.ipynb", "")
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestService_Open_CreatesModel(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{
		data: notebook.NotebookData{
			Cells:    []notebook.CellData{{Kind: notebook.CellKindCode, Source: "1+1"}},
			Metadata: notebook.DocumentMetadata{Trusted: true},
		},
	}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	doc, err := f.svc.Open(context.Background(), "nb", "file:///a.ipynb", "")
	require.NoError(t, err)
	require.Equal(t, 1, doc.CellCount())
	require.Equal(t, 1, ctrl.opens)

	// Re-opening returns the live model without another controller call.
	again, err := f.svc.Open(context.Background(), "nb", "file:///a.ipynb", "")
	require.NoError(t, err)
	require.Same(t, doc, again)
	require.Equal(t, 1, ctrl.opens)
}

func TestService_Open_ControllerFailurePropagates(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{openErr: errors.New("corrupt notebook file")}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	_, err = f.svc.Open(context.Background(), "nb", "file:///a.ipynb", "")
	require.ErrorContains(t, err, "corrupt notebook file")
	_, ok := f.models.Get("file:///a.ipynb")
	require.False(t, ok)
}

func TestService_Save_EmitsSavedEvent(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{saved: true}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	saved := f.svc.SubscribeSaved(ctx)

	ok, err := f.svc.Save(context.Background(), "nb", "file:///a.ipynb")
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case evt := <-saved:
		require.Equal(t, pubsub.SavedEvent, evt.Type)
		require.Equal(t, notebook.Resource("file:///a.ipynb"), evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected a saved event")
	}
}

func TestService_Save_NoEventWhenControllerDeclines(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{saved: false}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	saved := f.svc.SubscribeSaved(ctx)

	ok, err := f.svc.Save(context.Background(), "nb", "file:///a.ipynb")
	require.NoError(t, err)
	require.False(t, ok)

	select {
	case <-saved:
		t.Fatal("declined save must not emit an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_SaveAs_EventCarriesTarget(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{saved: true}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	saved := f.svc.SubscribeSaved(ctx)

	ok, err := f.svc.SaveAs(context.Background(), "nb", "file:///a.ipynb", "file:///b.ipynb")
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case evt := <-saved:
		require.Equal(t, notebook.Resource("file:///b.ipynb"), evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected a saved event")
	}
}

func TestService_Backup(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{backupID: "backup-7"}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	id, err := f.svc.Backup(context.Background(), "nb", "file:///a.ipynb")
	require.NoError(t, err)
	require.Equal(t, "backup-7", id)
}

func TestService_ResolveEditorAndMessages(t *testing.T) {
	f := newFixture(t)

	// Without a controller both are no-ops.
	require.NoError(t, f.svc.ResolveEditor(context.Background(), "nb", "file:///a.ipynb", "editor-1"))
	require.False(t, f.svc.ReceiveMessage("nb", "editor-1", "ping"))

	ctrl := &fakeController{}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	require.NoError(t, f.svc.ResolveEditor(context.Background(), "nb", "file:///a.ipynb", "editor-1"))
	require.True(t, f.svc.ReceiveMessage("nb", "editor-1", "ping"))
	require.Equal(t, []string{"editor-1"}, ctrl.resolved)
	require.Equal(t, []any{"ping"}, ctrl.messages)
}

func TestService_GetKernels_FanOutJoin(t *testing.T) {
	f := newFixture(t)

	f.kernels.Add(kernelstore.Provider{
		ViewType:  "nb",
		Extension: notebook.ExtensionMeta{ID: "ext.a"},
		ProvideKernels: func(_ context.Context, _ notebook.Resource) ([]notebook.Kernel, error) {
			return []notebook.Kernel{{ID: "python3"}}, nil
		},
	})
	f.kernels.Add(kernelstore.Provider{
		ViewType:  "nb",
		Extension: notebook.ExtensionMeta{ID: "ext.b"},
		ProvideKernels: func(_ context.Context, _ notebook.Resource) ([]notebook.Kernel, error) {
			return []notebook.Kernel{{ID: "julia"}, {ID: "r"}}, nil
		},
	})

	kernels, err := f.svc.GetKernels(context.Background(), "nb", "file:///a.ipynb")
	require.NoError(t, err)
	require.Len(t, kernels, 3)
}

func TestService_GetKernels_ProviderFailureFailsCall(t *testing.T) {
	f := newFixture(t)

	f.kernels.Add(kernelstore.Provider{
		ViewType:  "nb",
		Extension: notebook.ExtensionMeta{ID: "ext.good"},
		ProvideKernels: func(_ context.Context, _ notebook.Resource) ([]notebook.Kernel, error) {
			return []notebook.Kernel{{ID: "python3"}}, nil
		},
	})
	f.kernels.Add(kernelstore.Provider{
		ViewType:  "nb",
		Extension: notebook.ExtensionMeta{ID: "ext.bad"},
		ProvideKernels: func(_ context.Context, _ notebook.Resource) ([]notebook.Kernel, error) {
			return nil, errors.New("host unreachable")
		},
	})

	_, err := f.svc.GetKernels(context.Background(), "nb", "file:///a.ipynb")
	require.ErrorContains(t, err, "ext.bad")
}

func TestService_GetKernels_CachedUntilStoreChanges(t *testing.T) {
	f := newFixture(t)

	calls := 0
	f.kernels.Add(kernelstore.Provider{
		ViewType:  "nb",
		Extension: notebook.ExtensionMeta{ID: "ext.a"},
		ProvideKernels: func(_ context.Context, _ notebook.Resource) ([]notebook.Kernel, error) {
			calls++
			return []notebook.Kernel{{ID: "python3"}}, nil
		},
	})

	for i := 0; i < 3; i++ {
		_, err := f.svc.GetKernels(context.Background(), "nb", "file:///a.ipynb")
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls)

	// A store mutation invalidates the cache.
	f.kernels.Add(kernelstore.Provider{
		ViewType:  "nb",
		Extension: notebook.ExtensionMeta{ID: "ext.new"},
		ProvideKernels: func(_ context.Context, _ notebook.Resource) ([]notebook.Kernel, error) {
			return nil, nil
		},
	})

	require.Eventually(t, func() bool {
		_, err := f.svc.GetKernels(context.Background(), "nb", "file:///a.ipynb")
		return err == nil && calls > 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_ListNotebookDocuments(t *testing.T) {
	f := newFixture(t)

	ctrl := &fakeController{}
	_, err := f.svc.RegisterController("nb", notebook.ExtensionMeta{}, ctrl)
	require.NoError(t, err)

	require.Empty(t, f.svc.ListNotebookDocuments())

	_, err = f.svc.Open(context.Background(), "nb", "file:///a.ipynb", "")
	require.NoError(t, err)
	_, err = f.svc.Open(context.Background(), "nb", "file:///b.ipynb", "")
	require.NoError(t, err)

	uris := f.svc.ListNotebookDocuments()
	require.ElementsMatch(t, []notebook.Resource{"file:///a.ipynb", "file:///b.ipynb"}, uris)

	require.True(t, f.models.Destroy("file:///a.ipynb"))
	require.Equal(t, []notebook.Resource{"file:///b.ipynb"}, f.svc.ListNotebookDocuments())
}

func TestService_DocumentFeed_PopulatesProviderStore(t *testing.T) {
	f := newFixture(t)

	f.documentFeed.Publish([]extensions.NotebookDocumentContribution{
		{
			ViewType:  "jupyter-notebook",
			Selectors: []notebook.Selector{{Include: "*.ipynb"}},
			Priority:  "default",
		},
	})

	info, ok := f.providers.Get("jupyter-notebook")
	require.True(t, ok)
	require.Equal(t, notebook.PriorityDefault, info.Priority)

	types := f.editorTypes.EditorTypes()
	require.Len(t, types, 1)
	require.Equal(t, "jupyter-notebook", types[0].ID)
}

func TestService_RendererFeed_SkipsMalformed(t *testing.T) {
	f := newFixture(t)

	f.rendererFeed.Publish([]extensions.NotebookRendererContribution{
		{ID: "good", EntryPoint: "out.js", MimeTypes: []string{"application/json"}},
		{ID: "", EntryPoint: "broken.js", MimeTypes: []string{"text/html"}},
	})

	require.Len(t, f.renderers.List(), 1)
	_, ok := f.renderers.Get("good")
	require.True(t, ok)
}

func TestService_MarkdownFeed(t *testing.T) {
	f := newFixture(t)

	f.markdownFeed.Publish([]extensions.MarkdownRendererContribution{
		{ID: "katex", EntryPoint: "katex.js"},
		{ID: "", EntryPoint: "broken.js"},
	})

	renderers := f.svc.GetContributedMarkdownRenderers()
	require.Len(t, renderers, 1)
	require.Equal(t, []string{"text/markdown"}, renderers[0].MimeTypes)
}

func TestService_ResolveOutputPlan(t *testing.T) {
	f := newFixture(t)

	f.renderers.Add(notebook.RendererInfo{ID: "json-viewer", MimeTypes: []string{"application/json"}})

	doc, err := f.models.Create("nb", "file:///a.ipynb", notebook.NotebookData{
		Metadata: notebook.DocumentMetadata{Trusted: false},
	}, notebook.TransientOptions{})
	require.NoError(t, err)

	output := notebook.Output{Items: []notebook.OutputItem{
		{MimeType: "text/plain"},
		{MimeType: "application/json"},
	}}

	plan := f.svc.ResolveOutputPlan(doc, output)
	// Default order puts application/json before text/plain.
	require.Equal(t, []notebook.OrderedMimeType{
		{MimeType: "application/json", RendererID: "json-viewer", IsTrusted: false},
		{MimeType: "application/json", RendererID: notebook.BuiltinRendererID, IsTrusted: false},
		{MimeType: "text/plain", RendererID: notebook.BuiltinRendererID, IsTrusted: true},
	}, plan)
}

func TestService_DisplayOrderFollowsConfig(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.cfg.SetDisplayOrder([]string{"text/plain", "application/json"}))

	doc, err := f.models.Create("nb", "file:///a.ipynb", notebook.NotebookData{
		Metadata: notebook.DocumentMetadata{Trusted: true},
	}, notebook.TransientOptions{})
	require.NoError(t, err)

	output := notebook.Output{Items: []notebook.OutputItem{
		{MimeType: "application/json"},
		{MimeType: "text/plain"},
	}}

	require.Eventually(t, func() bool {
		plan := f.svc.ResolveOutputPlan(doc, output)
		return len(plan) == 2 && plan[0].MimeType == "text/plain"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_SelfHealsAfterRegistration(t *testing.T) {
	f := newFixture(t)

	f.providers.Add(notebook.ProviderInfo{ViewType: "stale-notebook"})
	require.Len(t, f.providers.List(), 1)

	// All extensions register without any document declarations arriving.
	f.host.FinishRegistration()

	require.Eventually(t, func() bool {
		return len(f.providers.List()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
