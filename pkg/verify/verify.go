// Package verify enforces the independence of the two dissimilar
// verification channels. The channels re-derive the enforcement contract
// from recorded evidence; if they imported kernel code they could inherit
// the very bug they exist to catch, so their sources are restricted to
// the standard library and this package makes that restriction checkable.
package verify

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
)

// ImportViolation reports a channel source file importing outside the
// standard library.
type ImportViolation struct {
	File       string `json:"file"`
	ImportPath string `json:"import_path"`
	Reason     string `json:"reason"`
}

func (v ImportViolation) String() string {
	return fmt.Sprintf("%s imports %q: %s", v.File, v.ImportPath, v.Reason)
}

// CheckIndependence parses every non-test Go file under dir and returns a
// violation for each import that is not part of the standard library.
// Test files are exempt: the restriction covers the shipped checker, not
// its test harness.
func CheckIndependence(dir string) ([]ImportViolation, error) {
	var violations []ImportViolation

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return fmt.Errorf("verify: parse %s: %w", path, err)
		}
		for _, imp := range file.Imports {
			importPath, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return fmt.Errorf("verify: import path in %s: %w", path, err)
			}
			if !isStandardLibrary(importPath) {
				violations = append(violations, ImportViolation{
					File:       path,
					ImportPath: importPath,
					Reason:     "dissimilar channels must depend on the standard library only",
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

// isStandardLibrary reports whether an import path belongs to the Go
// standard library. Module paths carry a dotted host in their first
// segment; standard library paths never do.
func isStandardLibrary(path string) bool {
	first := path
	if i := strings.Index(path, "/"); i >= 0 {
		first = path[:i]
	}
	return !strings.Contains(first, ".")
}
