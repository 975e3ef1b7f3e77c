// Command borrowchecker-desktop wraps the ledger page in a native window.
package main

import (
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/menu/keys"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"

	"github.com/borrowchecker/borrowchecker/internal/logging"
)

const windowTitle = "Borrow Checker"

func main() {
	log := logging.New(os.Stderr, logging.FormatConsole, os.Getenv("BORROWCHECKER_LOG_LEVEL"))
	logging.SetDefault(log)

	app := NewApp(log)
	if err := wails.Run(appOptions(app)); err != nil {
		log.Error().Err(err).Msg("desktop app failed")
		os.Exit(1)
	}
}

func appOptions(app *App) *options.App {
	return &options.App{
		Title:            windowTitle,
		Width:            1100,
		Height:           760,
		MinWidth:         720,
		MinHeight:        520,
		BackgroundColour: &options.RGBA{R: 24, G: 24, B: 27, A: 1},
		Menu:             buildMenu(app),
		AssetServer:      &assetserver.Options{Handler: app.GetHandler()},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind:             []any{app},
		Mac: &mac.Options{
			About: &mac.AboutInfo{
				Title:   windowTitle,
				Message: "Balances and settlements for shared expense ledgers.",
			},
		},
	}
}

// buildMenu has a Repository menu for opening and refreshing ledgers. macOS
// also gets the clipboard shortcuts its webview lacks without an Edit menu.
func buildMenu(app *App) *menu.Menu {
	root := menu.NewMenu()

	repo := root.AddSubmenu("Repository")
	repo.AddText("Open...", keys.CmdOrCtrl("o"), func(*menu.CallbackData) {
		if _, err := app.OpenDirectory(); err != nil {
			app.log.Warn().Err(err).Msg("open failed")
		}
	})
	repo.AddText("Pull Remote", keys.CmdOrCtrl("r"), func(*menu.CallbackData) {
		app.refreshRepository()
	})

	if goruntime.GOOS == "darwin" {
		edit := root.AddSubmenu("Edit")
		edit.AddText("Copy", keys.CmdOrCtrl("c"), nil)
		edit.AddText("Select All", keys.CmdOrCtrl("a"), nil)
		return root
	}

	repo.AddSeparator()
	repo.AddText("Quit", keys.OptionOrAlt("F4"), func(*menu.CallbackData) {
		os.Exit(0)
	})
	return root
}

// GetDefaultDirectory is where the open dialog starts: ~/Documents when it
// exists, the home directory otherwise.
func GetDefaultDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	if docs := filepath.Join(home, "Documents"); isDir(docs) {
		return docs
	}
	return home
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
