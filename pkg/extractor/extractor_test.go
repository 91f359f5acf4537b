package extractor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sumeval/pkg/extractor"
	"github.com/codeready-toolchain/sumeval/pkg/models"
)

func TestWholeFileExtractorWalksRecognizedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# readme"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor", "x"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "x", "skip.go"), []byte("package x"), 0o600))

	e := &extractor.WholeFileExtractor{}
	units, failures := e.Extract(context.Background(), root)

	assert.Empty(t, failures)
	require.Len(t, units, 1)
	assert.Equal(t, "main.go", units[0].Name)
	assert.Equal(t, models.CodeUnitFile, units[0].Type)
	assert.Equal(t, "go", units[0].Language)
	assert.Contains(t, units[0].Content, "package main")
}

func TestWholeFileExtractorSkipsOversizedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.go"), []byte("package main\nvar x = 1\n"), 0o600))

	e := &extractor.WholeFileExtractor{MaxFileBytes: 4}
	units, _ := e.Extract(context.Background(), root)
	assert.Empty(t, units)
}
