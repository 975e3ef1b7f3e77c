// Package assets embeds the browser client and the page shell template.
package assets

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed client/*
var clientFS embed.FS

//go:embed templates/index.html
var indexHTML string

// contentTypes maps client file extensions to their response type.
var contentTypes = map[string]string{
	".js":  "application/javascript",
	".css": "text/css",
}

// ClientFS returns the client files rooted at the client directory.
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// File returns a client file and its content type. Only script and style
// files are served.
func File(name string) ([]byte, string, error) {
	ct, ok := contentTypes[path.Ext(name)]
	if !ok || !fs.ValidPath(name) {
		return nil, "", fs.ErrNotExist
	}
	data, err := fs.ReadFile(ClientFS(), name)
	if err != nil {
		return nil, "", err
	}
	return data, ct, nil
}

// GetClientJS returns the client script.
func GetClientJS() ([]byte, error) {
	data, _, err := File("borrowchecker.js")
	return data, err
}

// GetClientCSS returns the client stylesheet.
func GetClientCSS() ([]byte, error) {
	data, _, err := File("borrowchecker.css")
	return data, err
}

// IndexTemplate returns the html/template source of the page shell.
func IndexTemplate() string {
	return indexHTML
}
