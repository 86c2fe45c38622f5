package domain

import (
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDomainImportsNothingInternal keeps the domain model self-contained:
// entity and rule types may only depend on the standard library, never on
// engine, storage or adapter packages.
func TestDomainImportsNothingInternal(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "shrimptrace/pkg/domain")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			if strings.HasPrefix(importPath, "shrimptrace/") {
				t.Errorf("%s imports module package %s", pkg.PkgPath, importPath)
			}
		}
	}
}
