package modelregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/plume/internal/notebook"
	"github.com/zjrosen/plume/internal/pubsub"
)

func sampleData() notebook.NotebookData {
	return notebook.NotebookData{
		Cells: []notebook.CellData{
			{Kind: notebook.CellKindCode, Source: "print('hi')", Language: "python"},
		},
		Metadata: notebook.DocumentMetadata{Trusted: true, Editable: true},
	}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	reg := New()

	doc, err := reg.Create("jupyter-notebook", "file:///work/a.ipynb", sampleData(), notebook.TransientOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, doc.CellCount())

	got, ok := reg.Get("file:///work/a.ipynb")
	require.True(t, ok)
	require.Same(t, doc, got)
}

func TestRegistry_Create_DuplicateURI(t *testing.T) {
	reg := New()

	_, err := reg.Create("jupyter-notebook", "file:///work/a.ipynb", sampleData(), notebook.TransientOptions{})
	require.NoError(t, err)

	_, err = reg.Create("other-view", "file:///work/a.ipynb", sampleData(), notebook.TransientOptions{})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistry_Destroy_RemovesFromIndex(t *testing.T) {
	reg := New()
	doc, err := reg.Create("jupyter-notebook", "file:///work/a.ipynb", sampleData(), notebook.TransientOptions{})
	require.NoError(t, err)

	require.True(t, reg.Destroy("file:///work/a.ipynb"))
	require.True(t, doc.IsDisposed())

	_, ok := reg.Get("file:///work/a.ipynb")
	require.False(t, ok)

	require.False(t, reg.Destroy("file:///work/a.ipynb"))
}

func TestRegistry_ExternalDispose_RemovesFromIndex(t *testing.T) {
	reg := New()
	doc, err := reg.Create("jupyter-notebook", "file:///work/a.ipynb", sampleData(), notebook.TransientOptions{})
	require.NoError(t, err)

	doc.Dispose()

	_, ok := reg.Get("file:///work/a.ipynb")
	require.False(t, ok)
	require.Zero(t, reg.Len())
}

func TestRegistry_RemovalPrecedesTeardown(t *testing.T) {
	reg := New()
	doc, err := reg.Create("jupyter-notebook", "file:///work/a.ipynb", sampleData(), notebook.TransientOptions{})
	require.NoError(t, err)

	// A listener registered after creation fires after the registry's own:
	// by then the model has left the index but its state is still readable.
	doc.OnWillDispose(func() {
		_, ok := reg.Get("file:///work/a.ipynb")
		require.False(t, ok)
		require.Equal(t, 1, doc.CellCount())
	})

	doc.Dispose()
	require.Empty(t, doc.Cells())
}

func TestRegistry_Events(t *testing.T) {
	reg := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := reg.Subscribe(ctx)

	doc, err := reg.Create("jupyter-notebook", "file:///work/a.ipynb", sampleData(), notebook.TransientOptions{})
	require.NoError(t, err)

	select {
	case evt := <-events:
		require.Equal(t, pubsub.AddedEvent, evt.Type)
		require.Same(t, doc, evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected an added event")
	}

	doc.Dispose()

	select {
	case evt := <-events:
		require.Equal(t, pubsub.RemovedEvent, evt.Type)
		require.Same(t, doc, evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected a removed event")
	}

	// Disposal fires the removal exactly once.
	doc.Dispose()
	select {
	case evt, open := <-events:
		if open {
			t.Fatalf("unexpected extra event %v", evt.Type)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_GetAll_SnapshotIteration(t *testing.T) {
	reg := New()
	for _, uri := range []notebook.Resource{"file:///a.ipynb", "file:///b.ipynb", "file:///c.ipynb"} {
		_, err := reg.Create("jupyter-notebook", uri, sampleData(), notebook.TransientOptions{})
		require.NoError(t, err)
	}

	var seen int
	for doc := range reg.GetAll() {
		// Disposing mid-iteration must not disturb the loop.
		doc.Dispose()
		seen++
	}
	require.Equal(t, 3, seen)
	require.Zero(t, reg.Len())
}

func TestRegistry_List(t *testing.T) {
	reg := New()
	_, err := reg.Create("jupyter-notebook", "file:///a.ipynb", sampleData(), notebook.TransientOptions{})
	require.NoError(t, err)

	require.Equal(t, []notebook.Resource{"file:///a.ipynb"}, reg.List())
}
