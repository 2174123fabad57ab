// Package compose inspects a local compose file before it is shipped, so an
// operator sees a missing reverse-proxy or database service up front.
package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyFile   = errors.New("compose file is empty")
	ErrInvalidYAML = errors.New("compose file is not valid YAML")
)

// Summary lists what a compose file declares.
type Summary struct {
	Path     string
	Services []string
	Images   map[string]string
}

// Has reports whether service is declared.
func (s *Summary) Has(service string) bool {
	i := sort.SearchStrings(s.Services, service)
	return i < len(s.Services) && s.Services[i] == service
}

// Inspect loads the compose file at path. Variables are interpolated from
// the current process environment; unset ones resolve to empty strings.
func Inspect(ctx context.Context, path string) (*Summary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}
	return Parse(ctx, path, content)
}

// Parse is Inspect on in-memory content.
func Parse(ctx context.Context, path string, content []byte) (*Summary, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyFile
	}

	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if dict == nil {
		return nil, ErrInvalidYAML
	}

	workingDir := filepath.Dir(path)
	project, err := loader.LoadWithContext(ctx, types.ConfigDetails{
		WorkingDir: workingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: path,
				Content:  content,
				Config:   dict,
			},
		},
		Environment: types.NewMapping(os.Environ()),
	}, func(opts *loader.Options) {
		opts.SetProjectName("compose-deploy", false)
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		return nil, fmt.Errorf("load compose file %s: %w", path, err)
	}

	summary := &Summary{
		Path:     path,
		Services: make([]string, 0, len(project.Services)),
		Images:   make(map[string]string, len(project.Services)),
	}
	for name, svc := range project.Services {
		summary.Services = append(summary.Services, name)
		summary.Images[name] = svc.Image
	}
	sort.Strings(summary.Services)

	return summary, nil
}
