// Package extractor defines the code-extraction boundary (spec.md §6):
// turning a source tree into CodeUnits. Real AST-aware extraction is an
// explicit Non-goal (spec.md §1); this package provides the interface
// plus a minimal whole-file default implementation, so the extraction
// phase has something real to run against without a parser dependency.
package extractor

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeready-toolchain/sumeval/pkg/errs"
	"github.com/codeready-toolchain/sumeval/pkg/models"
)

// Extractor turns a root directory into CodeUnits for a Run. A per-file
// parse failure is an ExtractionError and must not abort the walk — the
// caller records it and continues (spec.md §7).
type Extractor interface {
	Extract(ctx context.Context, root string) ([]*models.CodeUnit, []FileError)
}

// FileError is one file's extraction failure, surfaced alongside whatever
// units the walk did manage to produce.
type FileError struct {
	Path string
	Err  error
}

// languageByExt is a small, explicit extension table. Real language
// detection (shebangs, heuristics, vendored-file exclusion) is what a
// dedicated detector library would add; this default extractor only
// needs enough to populate CodeUnit.Language for downstream filtering by
// language cohort.
var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".php":  "php",
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".venv": true,
}

// WholeFileExtractor treats every source file under root as a single
// CodeUnit of type "file" — no AST parsing, no function/class slicing.
// It is the default Extractor wired when no richer implementation is
// configured.
type WholeFileExtractor struct {
	// MaxFileBytes skips files larger than this to keep summaries
	// reasonably sized; 0 means no limit.
	MaxFileBytes int64
}

// Extract walks root and emits one CodeUnit per recognized source file.
func (e *WholeFileExtractor) Extract(ctx context.Context, root string) ([]*models.CodeUnit, []FileError) {
	var units []*models.CodeUnit
	var failures []FileError

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			failures = append(failures, FileError{Path: path, Err: errs.ErrExtraction})
			return nil
		}
		if info.IsDir() {
			if skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		lang, ok := languageByExt[ext]
		if !ok {
			return nil
		}
		if e.MaxFileBytes > 0 && info.Size() > e.MaxFileBytes {
			return nil
		}

		content, readErr := readFile(path)
		if readErr != nil {
			failures = append(failures, FileError{Path: path, Err: readErr})
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		units = append(units, &models.CodeUnit{
			Path:     rel,
			Name:     filepath.Base(path),
			Type:     models.CodeUnitFile,
			Language: lang,
			Content:  content,
		})
		return nil
	})

	return units, failures
}

func readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}
