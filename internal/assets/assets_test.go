package assets

import (
	"html/template"
	"io/fs"
	"strings"
	"testing"
)

func TestGetClientJS(t *testing.T) {
	data, err := GetClientJS()
	if err != nil {
		t.Fatalf("GetClientJS failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("GetClientJS returned empty data")
	}
	if !strings.Contains(string(data), "data-event") {
		t.Error("client script does not handle element events")
	}
}

func TestGetClientCSS(t *testing.T) {
	data, err := GetClientCSS()
	if err != nil {
		t.Fatalf("GetClientCSS failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("GetClientCSS returned empty data")
	}
}

func TestClientFS(t *testing.T) {
	for _, name := range []string{"borrowchecker.js", "borrowchecker.css"} {
		if _, err := fs.Stat(ClientFS(), name); err != nil {
			t.Errorf("ClientFS missing %s: %v", name, err)
		}
	}
}

func TestIndexTemplateParses(t *testing.T) {
	src := IndexTemplate()
	if !strings.Contains(src, "/assets/borrowchecker.js") {
		t.Error("index template does not load the client script")
	}
	if _, err := template.New("index").Parse(src); err != nil {
		t.Fatalf("index template does not parse: %v", err)
	}
}

func TestFile(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantErr     bool
	}{
		{"borrowchecker.js", "application/javascript", false},
		{"borrowchecker.css", "text/css", false},
		{"missing.js", "", true},
		{"../templates/index.html", "", true},
		{"borrowchecker.txt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ct, err := File(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Errorf("File(%q) returned no error", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("File(%q): %v", tt.name, err)
			}
			if ct != tt.contentType || len(data) == 0 {
				t.Errorf("File(%q) = %d bytes, %q", tt.name, len(data), ct)
			}
		})
	}
}
