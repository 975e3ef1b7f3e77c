// Package listfiles wires the "List Files" button to the list_files_html
// command and renders the result into the content area.
package listfiles

import (
	"context"
	"fmt"
	"html/template"
	"sync"

	"github.com/borrowchecker/borrowchecker/internal/bridge"
	"github.com/borrowchecker/borrowchecker/internal/page"
)

// Element IDs, labels and the command the handler binds together.
const (
	ButtonID     = "loadFilesBtn"
	ContentID    = "content"
	IdleLabel    = "List Files"
	LoadingLabel = "Loading..."
	Command      = "list_files_html"
)

// ButtonState is the interaction state of the button.
type ButtonState int

const (
	Idle ButtonState = iota
	Loading
)

func (s ButtonState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	default:
		return fmt.Sprintf("ButtonState(%d)", int(s))
	}
}

// Elements returns the elements the handler expects in its host document,
// in their initial state.
func Elements() []page.Element {
	return []page.Element{
		{ID: ButtonID, Text: IdleLabel},
		{ID: ContentID},
	}
}

// Handler binds button clicks to command invocations.
type Handler struct {
	doc     *page.Document
	invoker bridge.Invoker
	ctx     context.Context

	mu    sync.Mutex
	state ButtonState
}

// New creates a handler. Values from ctx reach the invoker, but its
// cancellation does not: an in-flight call always runs to completion.
func New(ctx context.Context, doc *page.Document, invoker bridge.Invoker) *Handler {
	return &Handler{
		doc:     doc,
		invoker: invoker,
		ctx:     context.WithoutCancel(ctx),
	}
}

// Initialize attaches the click listener once the document is ready.
// Calling it twice attaches two listeners. It fails when the document has
// no button or content element.
func (h *Handler) Initialize() error {
	for _, id := range []string{ButtonID, ContentID} {
		if _, ok := h.doc.Element(id); !ok {
			return &page.UnknownElementError{ID: id}
		}
	}
	h.doc.OnReady(func() {
		// Elements are never removed, so the button checked above still exists.
		_ = h.doc.AddEventListener(ButtonID, page.EventClick, func() { h.Click() })
	})
	return nil
}

// State returns the current button state.
func (h *Handler) State() ButtonState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Click enters Loading before returning, then invokes the command in the
// background. The returned channel is closed once the button is Idle again.
// Overlapping clicks are not guarded beyond the disabled flag.
func (h *Handler) Click() <-chan struct{} {
	h.acquire()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer h.release()

		html, err := h.invoker.Invoke(h.ctx, Command, nil)
		if err != nil {
			html = ErrorHTML(err)
		}
		_ = h.doc.SetHTML(ContentID, html)
	}()
	return done
}

func (h *Handler) acquire() {
	h.mu.Lock()
	h.state = Loading
	h.mu.Unlock()
	_ = h.doc.SetDisabled(ButtonID, true)
	_ = h.doc.SetText(ButtonID, LoadingLabel)
}

func (h *Handler) release() {
	_ = h.doc.SetDisabled(ButtonID, false)
	_ = h.doc.SetText(ButtonID, IdleLabel)
	h.mu.Lock()
	h.state = Idle
	h.mu.Unlock()
}

// ErrorHTML renders a failed invocation as an error line. The message is
// escaped; success markup is never touched.
func ErrorHTML(err error) string {
	return `<p class="error">Error: ` + template.HTMLEscapeString(err.Error()) + `</p>`
}
