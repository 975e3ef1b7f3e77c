package main

import (
	"context"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Frontend events.
const (
	EventNavigate = "navigate" // payload: server URL
	EventRefresh  = "refresh"  // payload: changed file path
)

// windowBridge is the part of the Wails runtime the App drives.
type windowBridge interface {
	Emit(event string, data ...interface{})
	SetTitle(title string)
}

// wailsBridge forwards to the Wails runtime of a running window.
type wailsBridge struct {
	ctx context.Context
}

func (b wailsBridge) Emit(event string, data ...interface{}) {
	runtime.EventsEmit(b.ctx, event, data...)
}

func (b wailsBridge) SetTitle(title string) {
	runtime.WindowSetTitle(b.ctx, title)
}

// nopBridge is used before startup and in tests.
type nopBridge struct{}

func (nopBridge) Emit(string, ...interface{}) {}
func (nopBridge) SetTitle(string)             {}
