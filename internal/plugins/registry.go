// Package plugins provides a registry of message readers and expense exporters.
package plugins

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/ArionMiles/tab/pkg/api"
)

// ReaderPlugin builds a message source.
type ReaderPlugin interface {
	// Name returns the plugin name (e.g., "gmail", "mbox").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// NewReader creates a reader with the given JSON config.
	NewReader(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error)
}

// ExporterPlugin writes expenses in one file format.
type ExporterPlugin interface {
	Name() string
	Description() string
	Export(w io.Writer, expenses []api.Expense) error
}

// Registry manages available plugins.
type Registry struct {
	readers   map[string]ReaderPlugin
	exporters map[string]ExporterPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers:   make(map[string]ReaderPlugin),
		exporters: make(map[string]ExporterPlugin),
	}
}

// Default returns a registry with the built-in plugins registered.
func Default() *Registry {
	r := NewRegistry()
	for _, p := range []ReaderPlugin{&GmailPlugin{}, &MboxPlugin{}} {
		if err := r.RegisterReader(p); err != nil {
			panic(err)
		}
	}
	for _, p := range []ExporterPlugin{CSVExporter{}, JSONExporter{}} {
		if err := r.RegisterExporter(p); err != nil {
			panic(err)
		}
	}
	return r
}

// RegisterReader registers a reader plugin.
func (r *Registry) RegisterReader(plugin ReaderPlugin) error {
	name := plugin.Name()
	if _, exists := r.readers[name]; exists {
		return fmt.Errorf("reader plugin %q already registered", name)
	}
	r.readers[name] = plugin
	return nil
}

// RegisterExporter registers an exporter plugin.
func (r *Registry) RegisterExporter(plugin ExporterPlugin) error {
	name := plugin.Name()
	if _, exists := r.exporters[name]; exists {
		return fmt.Errorf("exporter plugin %q already registered", name)
	}
	r.exporters[name] = plugin
	return nil
}

// GetReader returns a reader plugin by name.
func (r *Registry) GetReader(name string) (ReaderPlugin, error) {
	plugin, exists := r.readers[name]
	if !exists {
		return nil, fmt.Errorf("reader plugin %q not found", name)
	}
	return plugin, nil
}

// GetExporter returns an exporter plugin by name.
func (r *Registry) GetExporter(name string) (ExporterPlugin, error) {
	plugin, exists := r.exporters[name]
	if !exists {
		return nil, fmt.Errorf("exporter plugin %q not found", name)
	}
	return plugin, nil
}

// ListReaders returns all reader plugins sorted by name.
func (r *Registry) ListReaders() []ReaderPlugin {
	plugins := make([]ReaderPlugin, 0, len(r.readers))
	for _, plugin := range r.readers {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// ListExporters returns all exporter plugins sorted by name.
func (r *Registry) ListExporters() []ExporterPlugin {
	plugins := make([]ExporterPlugin, 0, len(r.exporters))
	for _, plugin := range r.exporters {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// Scopes returns the deduplicated OAuth scopes of the named readers.
func (r *Registry) Scopes(readerNames ...string) ([]string, error) {
	scopeSet := make(map[string]struct{})
	for _, name := range readerNames {
		reader, err := r.GetReader(name)
		if err != nil {
			return nil, err
		}
		for _, scope := range reader.RequiredScopes() {
			scopeSet[scope] = struct{}{}
		}
	}

	scopes := make([]string, 0, len(scopeSet))
	for scope := range scopeSet {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// CreateReader creates a reader instance from a plugin.
func (r *Registry) CreateReader(name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	plugin, err := r.GetReader(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewReader(httpClient, config, logger)
}
