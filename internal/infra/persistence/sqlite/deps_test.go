package sqlite

import (
	"strings"
	"testing"

	"kitstudio/testutil"
)

func TestImportsStayWithinPersistence(t *testing.T) {
	allowed := map[string]bool{
		"kitstudio/pkg/domain":                        true,
		"kitstudio/internal/infra/persistence/memory": true,
	}
	testutil.AssertNoDirectImports(t, ".", func(path string) bool {
		return strings.HasPrefix(path, "kitstudio/") && !allowed[path]
	}, "sqlite layers durability over the memory store")
}
