package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"

	"kitstudio/testutil"
)

// Infra drivers are wrapped by exactly one package each: blob drivers by
// this package and document stores by core. Everything else depends on the
// interfaces.
func TestInfraImportsAreWrapped(t *testing.T) {
	owners := map[string]func(string) bool{
		"kitstudio/internal/infra/blob":        testutil.Under("kitstudio/internal/blob"),
		"kitstudio/internal/infra/persistence": testutil.Under("kitstudio/internal/core"),
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "kitstudio/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		path := strings.TrimSuffix(pkg.PkgPath, "_test")
		if testutil.Under("kitstudio/internal/infra")(path) {
			continue
		}
		for imp := range pkg.Imports {
			for infra, owned := range owners {
				if testutil.Under(infra)(imp) && !owned(path) {
					violations = append(violations, pkg.PkgPath+": "+imp)
				}
			}
		}
	}
	sort.Strings(violations)
	violations = compactStrings(violations)
	for _, v := range violations {
		t.Errorf("infra package imported outside its wrapper: %s", v)
	}
}

func compactStrings(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}
