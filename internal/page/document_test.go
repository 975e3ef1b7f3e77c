package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDoc() *Document {
	return NewDocument(
		Element{ID: "btn", Text: "Go"},
		Element{ID: "out"},
	)
}

func TestDocumentMutationsEmitPatches(t *testing.T) {
	doc := newTestDoc()
	patches, cancel := doc.Subscribe()
	defer cancel()

	require.NoError(t, doc.SetDisabled("btn", true))
	require.NoError(t, doc.SetText("btn", "Wait"))
	require.NoError(t, doc.SetHTML("out", "<b>x</b>"))

	assert.Equal(t, Patch{ID: "btn", Op: OpDisabled, Value: true}, <-patches)
	assert.Equal(t, Patch{ID: "btn", Op: OpText, Value: "Wait"}, <-patches)
	assert.Equal(t, Patch{ID: "out", Op: OpHTML, Value: "<b>x</b>"}, <-patches)

	el, ok := doc.Element("btn")
	require.True(t, ok)
	assert.True(t, el.Disabled)
	assert.Equal(t, "Wait", el.Text)
}

func TestDocumentNoPatchWithoutChange(t *testing.T) {
	doc := newTestDoc()
	patches, cancel := doc.Subscribe()
	defer cancel()

	require.NoError(t, doc.SetText("btn", "Go"))
	require.NoError(t, doc.SetDisabled("btn", false))

	select {
	case p := <-patches:
		t.Fatalf("unexpected patch %+v", p)
	default:
	}
}

func TestDocumentUnknownElement(t *testing.T) {
	doc := newTestDoc()

	err := doc.SetHTML("missing", "x")
	var unknown *UnknownElementError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.ID)

	assert.Error(t, doc.AddEventListener("missing", EventClick, func() {}))
	assert.False(t, doc.Dispatch("missing", EventClick))
}

func TestDocumentReady(t *testing.T) {
	doc := newTestDoc()
	calls := 0
	doc.OnReady(func() { calls++ })
	assert.Equal(t, 0, calls)
	assert.False(t, doc.IsReady())

	doc.Ready()
	doc.Ready()
	assert.Equal(t, 1, calls)

	// Late registration runs immediately.
	doc.OnReady(func() { calls++ })
	assert.Equal(t, 2, calls)
}

func TestDocumentDispatch(t *testing.T) {
	doc := newTestDoc()
	var order []int
	require.NoError(t, doc.AddEventListener("btn", EventClick, func() { order = append(order, 1) }))
	require.NoError(t, doc.AddEventListener("btn", EventClick, func() { order = append(order, 2) }))
	assert.Equal(t, 2, doc.ListenerCount("btn", EventClick))

	assert.True(t, doc.Dispatch("btn", EventClick))
	assert.Equal(t, []int{1, 2}, order)

	require.NoError(t, doc.SetDisabled("btn", true))
	assert.False(t, doc.Dispatch("btn", EventClick), "clicks on disabled elements are dropped")
	assert.Equal(t, []int{1, 2}, order)

	assert.False(t, doc.Dispatch("out", EventClick), "no listeners")
}

func TestDocumentSnapshotOrder(t *testing.T) {
	doc := newTestDoc()
	snap := doc.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "btn", snap[0].ID)
	assert.Equal(t, "out", snap[1].ID)
}

func TestDocumentUnsubscribeClosesChannel(t *testing.T) {
	doc := newTestDoc()
	patches, cancel := doc.Subscribe()
	cancel()
	cancel()

	_, open := <-patches
	assert.False(t, open)
	require.NoError(t, doc.SetText("btn", "after"))
}
