package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// resolvePackagePath normalizes a configured package reference into a path
// that `go test` accepts from the working directory. Relative references
// ("./...", "./internal/config") pass through; full import paths are checked
// against the module declared in go.mod and rewritten relative to it.
func resolvePackagePath(pkgPath string, workDir string) (string, error) {
	if pkgPath == "" || strings.HasPrefix(pkgPath, "./") || pkgPath == "..." {
		return pkgPath, nil
	}

	goModPath := filepath.Join(workDir, "go.mod")
	goModContent, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}

	modFile, err := modfile.ParseLax(goModPath, goModContent, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}

	moduleName := modFile.Module.Mod.Path
	if moduleName == "" {
		return "", fmt.Errorf("could not find module name in go.mod")
	}

	if !strings.HasPrefix(pkgPath, moduleName) {
		return "", fmt.Errorf("package %s is not in module %s", pkgPath, moduleName)
	}

	relPath := strings.TrimPrefix(pkgPath, moduleName)
	relPath = strings.TrimPrefix(relPath, "/")
	if relPath == "" {
		return ".", nil
	}
	return "./" + relPath, nil
}
