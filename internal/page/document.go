// Package page holds the server-side document model for a browser page.
//
// Go owns element state; the browser applies the patches a Document emits and
// reports user events back. Handlers only ever touch the Document.
package page

import (
	"fmt"
	"sync"
)

// Patch operations.
const (
	OpDisabled = "disabled"
	OpText     = "text"
	OpHTML     = "html"
)

// EventClick is the event name for button clicks.
const EventClick = "click"

// patchBuffer is the per-subscriber channel capacity.
const patchBuffer = 64

// Element is a snapshot of one addressable element.
type Element struct {
	ID       string `json:"id"`
	Disabled bool   `json:"disabled"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

// Patch describes a single element mutation.
type Patch struct {
	ID    string      `json:"id"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// Listener is an event callback.
type Listener func()

// Document is a mutex-guarded set of elements plus a ready signal and
// per-element event listeners.
type Document struct {
	mu        sync.Mutex
	order     []string
	elements  map[string]*Element
	listeners map[string]map[string][]Listener

	ready   bool
	onReady []func()

	subs   map[int]chan Patch
	nextID int
}

// NewDocument creates a document holding the given elements.
func NewDocument(elements ...Element) *Document {
	d := &Document{
		elements:  make(map[string]*Element, len(elements)),
		listeners: make(map[string]map[string][]Listener),
		subs:      make(map[int]chan Patch),
	}
	for _, el := range elements {
		d.order = append(d.order, el.ID)
		d.elements[el.ID] = &el
	}
	return d
}

// Element returns a snapshot of the element with the given ID.
func (d *Document) Element(id string) (Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.elements[id]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

// Snapshot returns all elements in creation order.
func (d *Document) Snapshot() []Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Element, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.elements[id])
	}
	return out
}

// SetDisabled sets the disabled flag of an element.
func (d *Document) SetDisabled(id string, disabled bool) error {
	return d.mutate(id, func(el *Element) (Patch, bool) {
		if el.Disabled == disabled {
			return Patch{}, false
		}
		el.Disabled = disabled
		return Patch{ID: id, Op: OpDisabled, Value: disabled}, true
	})
}

// SetText replaces the text content of an element.
func (d *Document) SetText(id, text string) error {
	return d.mutate(id, func(el *Element) (Patch, bool) {
		if el.Text == text {
			return Patch{}, false
		}
		el.Text = text
		return Patch{ID: id, Op: OpText, Value: text}, true
	})
}

// SetHTML replaces the inner markup of an element. The markup is stored
// verbatim.
func (d *Document) SetHTML(id, html string) error {
	return d.mutate(id, func(el *Element) (Patch, bool) {
		if el.HTML == html {
			return Patch{}, false
		}
		el.HTML = html
		return Patch{ID: id, Op: OpHTML, Value: html}, true
	})
}

func (d *Document) mutate(id string, fn func(*Element) (Patch, bool)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.elements[id]
	if !ok {
		return &UnknownElementError{ID: id}
	}
	patch, changed := fn(el)
	if !changed {
		return nil
	}
	for _, ch := range d.subs {
		select {
		case ch <- patch:
		default:
			// Slow subscriber; it will resync from Snapshot on reconnect.
		}
	}
	return nil
}

// OnReady registers fn to run when the document becomes ready. If the
// document is already ready, fn runs immediately.
func (d *Document) OnReady(fn func()) {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		fn()
		return
	}
	d.onReady = append(d.onReady, fn)
	d.mu.Unlock()
}

// Ready fires the ready signal. Only the first call has any effect.
func (d *Document) Ready() {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		return
	}
	d.ready = true
	pending := d.onReady
	d.onReady = nil
	d.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// IsReady reports whether Ready has fired.
func (d *Document) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// AddEventListener attaches fn to event on element id. Adding the same
// listener twice attaches it twice.
func (d *Document) AddEventListener(id, event string, fn Listener) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.elements[id]; !ok {
		return &UnknownElementError{ID: id}
	}
	byEvent, ok := d.listeners[id]
	if !ok {
		byEvent = make(map[string][]Listener)
		d.listeners[id] = byEvent
	}
	byEvent[event] = append(byEvent[event], fn)
	return nil
}

// ListenerCount returns how many listeners are attached for event on id.
func (d *Document) ListenerCount(id, event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[id][event])
}

// Dispatch runs the listeners for event on element id in registration order.
// Clicks on disabled elements are dropped. Reports whether any listener ran.
func (d *Document) Dispatch(id, event string) bool {
	d.mu.Lock()
	el, ok := d.elements[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if event == EventClick && el.Disabled {
		d.mu.Unlock()
		return false
	}
	fns := append([]Listener(nil), d.listeners[id][event]...)
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns) > 0
}

// Subscribe returns a channel receiving every subsequent patch, plus a
// function that detaches and closes it.
func (d *Document) Subscribe() (<-chan Patch, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	ch := make(chan Patch, patchBuffer)
	d.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(ch)
		})
	}
}

// UnknownElementError is returned for operations on a missing element ID.
type UnknownElementError struct {
	ID string
}

func (e *UnknownElementError) Error() string {
	return fmt.Sprintf("page: no element with id %q", e.ID)
}
