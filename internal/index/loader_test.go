package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abramin/flowseq/internal/config"
)

func TestMatchesGlob(t *testing.T) {
	tests := []struct {
		path    string
		pattern string
		want    bool
	}{
		{"foo.pb.go", "*.pb.go", true},
		{"foo.go", "*.pb.go", false},
		{"/path/to/foo.pb.go", "**/*.pb.go", true},
		{"/path/to/foo_gen.go", "**/*_gen.go", true},
		{"/path/to/foo.go", "**/*_gen.go", false},
		{"foo_mock.go", "**/*_mock.go", true},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_"+tt.pattern, func(t *testing.T) {
			got := matchesGlob(tt.path, tt.pattern)
			if got != tt.want {
				t.Errorf("matchesGlob(%q, %q) = %v, want %v", tt.path, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestMatchesSuffix(t *testing.T) {
	tests := []struct {
		path   string
		suffix string
		want   bool
	}{
		{"foo.pb.go", "*.pb.go", true},
		{"foo.go", "*.pb.go", false},
		{"/path/to/file.pb.go", "*.pb.go", true},
	}

	for _, tt := range tests {
		t.Run(tt.path+"_"+tt.suffix, func(t *testing.T) {
			got := matchesSuffix(tt.path, tt.suffix)
			if got != tt.want {
				t.Errorf("matchesSuffix(%q, %q) = %v, want %v", tt.path, tt.suffix, got, tt.want)
			}
		})
	}
}

func TestLoaderExcludesDirs(t *testing.T) {
	dir := writeModule(t)
	vendored := filepath.Join(dir, "third_party", "fixture")
	if err := os.MkdirAll(vendored, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(vendored, "fixture.go"), []byte("package fixture\n\nfunc Run() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(config.Default(), dir)
	if err := loader.Load(); err != nil {
		t.Fatalf("failed to load packages: %v", err)
	}

	for _, pkg := range loader.Packages() {
		if pkg.PkgPath == "example.com/shop/third_party/fixture" {
			t.Error("packages below third_party must be excluded")
		}
	}
	if len(loader.Packages()) != 1 {
		t.Errorf("expected 1 package, got %d", len(loader.Packages()))
	}
}

// TestLoaderOnProject tests the loader on the flowseq project itself.
func TestLoaderOnProject(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	projectRoot := filepath.Dir(filepath.Dir(wd))
	if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); os.IsNotExist(err) {
		t.Skip("not running in flowseq project, skipping integration test")
	}

	loader := NewLoader(config.Default(), projectRoot)
	if err := loader.Load(); err != nil {
		t.Fatalf("failed to load packages: %v", err)
	}

	pkgs := loader.Packages()
	if len(pkgs) == 0 {
		t.Fatal("expected at least one package")
	}

	if len(pkgs[0].GoFiles) > 0 {
		file := pkgs[0].GoFiles[0]
		if loader.GetPackageForFile(file) == nil {
			t.Errorf("expected to find package for file %s", file)
		}
	}
}
