package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"daftar/internal/logging"
)

// FilesTool exposes read-only access to a fixed base directory. Every
// path is resolved and checked against the base so traversal sequences
// cannot escape it.
type FilesTool struct {
	base string
	log  *zap.Logger
}

// NewFilesTool builds a file reader rooted at base. The base is made
// absolute once so later prefix checks are stable.
func NewFilesTool(base string, log *zap.Logger) (*FilesTool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	return &FilesTool{base: abs, log: log}, nil
}

// ReadFile returns the content of a file under the base directory.
// Absolute paths and ".." traversal are refused.
func (t *FilesTool) ReadFile(name string) (string, error) {
	cleaned := filepath.Clean(strings.TrimLeft(name, "/\\"))
	resolved := filepath.Join(t.base, cleaned)

	if resolved != t.base && !strings.HasPrefix(resolved, t.base+string(filepath.Separator)) {
		t.log.Warn("file access outside base refused",
			logging.EventToolCallBlocked.Field(),
			zap.String("tool_name", "read_file"),
			zap.String("requested_path", name),
		)
		return "", fmt.Errorf("access denied: %s is outside the allowed directory", name)
	}

	data, err := os.ReadFile(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("file not found: %s", cleaned)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", cleaned, err)
	}
	return string(data), nil
}

// ListFiles returns the names of regular files directly under the base.
func (t *FilesTool) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(t.base)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// RegisterFileTools adds read_file and list_files to a registry.
func RegisterFileTools(r *Registry, t *FilesTool) {
	r.MustRegister(&Tool{
		Name:        "read_file",
		Description: "Read a text file from the assistant's document directory.",
		Category:    CategoryFiles,
		Schema: ToolSchema{
			Required: []string{"filename"},
			Properties: map[string]Property{
				"filename": {Type: "string", Description: "Path relative to the document directory."},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return t.ReadFile(stringArg(args["filename"]))
		},
	})

	r.MustRegister(&Tool{
		Name:        "list_files",
		Description: "List files available in the assistant's document directory.",
		Category:    CategoryFiles,
		Schema:      ToolSchema{Properties: map[string]Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			names, err := t.ListFiles()
			if err != nil {
				return "", err
			}
			return marshalResult(names)
		},
	})
}
