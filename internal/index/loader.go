package index

import (
	"context"
	"os"

	"regsearch/internal/registry"
	"regsearch/internal/text"
)

// FileLoader reads rule documents from the local filesystem. Registry paths
// are relative to BaseDir when one is set.
type FileLoader struct {
	BaseDir string
}

func (l *FileLoader) Load(ctx context.Context, src registry.RuleSource) (string, error) {
	path := src.Path
	if l.BaseDir != "" {
		path = l.BaseDir + string(os.PathSeparator) + path
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the rules registry, not user input
	if err != nil {
		return "", err
	}
	return text.Normalize(string(data)), nil
}
