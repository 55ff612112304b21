package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePackagePath(t *testing.T) {
	workDir := t.TempDir()
	goMod := "module github.com/example/project\n\ngo 1.24\n"
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "go.mod"), []byte(goMod), 0644))

	tests := []struct {
		name    string
		pkgPath string
		want    string
		wantErr bool
	}{
		{name: "empty passes through", pkgPath: "", want: ""},
		{name: "relative passes through", pkgPath: "./internal/config", want: "./internal/config"},
		{name: "dots pass through", pkgPath: "...", want: "..."},
		{name: "module root", pkgPath: "github.com/example/project", want: "."},
		{name: "module subpackage", pkgPath: "github.com/example/project/internal/config", want: "./internal/config"},
		{name: "foreign module", pkgPath: "github.com/other/module/pkg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePackagePath(tt.pkgPath, workDir)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePackagePathMissingGoMod(t *testing.T) {
	_, err := resolvePackagePath("github.com/example/project/pkg", t.TempDir())
	require.ErrorContains(t, err, "go.mod")
}
