package index

import (
	"fmt"
	"go/token"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"

	"github.com/abramin/flowseq/internal/config"
)

// LoadMode defines the packages.Load mode required for SSA construction.
const LoadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedSyntax |
	packages.NeedTypes |
	packages.NeedTypesInfo |
	packages.NeedModule

// Loader loads the Go packages of a project.
type Loader struct {
	cfg           *config.Config
	projectDir    string
	fset          *token.FileSet
	pkgs          []*packages.Package
	fileToPackage map[string]*packages.Package
}

// NewLoader creates a new package loader.
func NewLoader(cfg *config.Config, projectDir string) *Loader {
	return &Loader{
		cfg:           cfg,
		projectDir:    projectDir,
		fset:          token.NewFileSet(),
		fileToPackage: make(map[string]*packages.Package),
	}
}

// Load loads all Go packages from the project directory.
func (l *Loader) Load() error {
	cfg := &packages.Config{
		Mode: LoadMode,
		Dir:  l.projectDir,
		Fset: l.fset,
	}

	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		return fmt.Errorf("loading packages: %w", err)
	}

	var filtered []*packages.Package
	for _, pkg := range pkgs {
		if l.shouldExcludePackage(pkg) {
			continue
		}
		filtered = append(filtered, pkg)

		for _, file := range pkg.GoFiles {
			l.fileToPackage[file] = pkg
		}
	}
	l.pkgs = filtered

	// Type errors are reported but do not stop indexing; SSA skips
	// ill-typed packages.
	var errs []string
	packages.Visit(l.pkgs, nil, func(pkg *packages.Package) {
		for _, err := range pkg.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s", pkg.PkgPath, err.Msg))
		}
	})
	if len(errs) > 0 {
		fmt.Printf("Warning: %d package loading errors\n", len(errs))
		for _, err := range errs[:min(5, len(errs))] {
			fmt.Printf("  - %s\n", err)
		}
		if len(errs) > 5 {
			fmt.Printf("  ... and %d more\n", len(errs)-5)
		}
	}

	if len(l.pkgs) == 0 {
		return fmt.Errorf("no packages found in %s", l.projectDir)
	}
	return nil
}

// shouldExcludePackage reports whether any directory between the project
// root and the package is excluded by config.
func (l *Loader) shouldExcludePackage(pkg *packages.Package) bool {
	dir := packageDir(pkg)
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(l.projectDir, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if l.cfg.IsExcludedDir(part) {
			return true
		}
	}
	return false
}

// matchesGlob performs a simplified glob match.
func matchesGlob(path, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		return matchesSuffix(path, pattern[3:])
	}
	matched, _ := filepath.Match(pattern, filepath.Base(path))
	return matched
}

// matchesSuffix checks if path ends with the given suffix pattern.
func matchesSuffix(path, suffix string) bool {
	if strings.HasPrefix(suffix, "*") {
		return strings.HasSuffix(path, suffix[1:])
	}
	return strings.HasSuffix(path, suffix)
}

// Packages returns the loaded packages.
func (l *Loader) Packages() []*packages.Package {
	return l.pkgs
}

// FileSet returns the file set used for parsing.
func (l *Loader) FileSet() *token.FileSet {
	return l.fset
}

// ProjectDir returns the directory packages were loaded from.
func (l *Loader) ProjectDir() string {
	return l.projectDir
}

// GetPackageForFile returns the package containing the given file.
func (l *Loader) GetPackageForFile(file string) *packages.Package {
	return l.fileToPackage[file]
}

// shouldExcludeFile checks if a file should be excluded from indexing.
// Functions declared in excluded files are treated as library code without
// a body.
func (l *Loader) shouldExcludeFile(file string) bool {
	for _, pattern := range l.cfg.Exclude.FilesGlob {
		if matchesGlob(file, pattern) {
			return true
		}
	}
	return false
}

// packageDir returns the directory of a package.
func packageDir(pkg *packages.Package) string {
	if len(pkg.GoFiles) > 0 {
		return filepath.Dir(pkg.GoFiles[0])
	}
	if len(pkg.OtherFiles) > 0 {
		return filepath.Dir(pkg.OtherFiles[0])
	}
	return ""
}
