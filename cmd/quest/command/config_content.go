package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/actions"
	"github.com/pixil98/go-quest/internal/content"
	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-quest/internal/storage"
)

type ContentConfig struct {
	Games        AssetConfig[*game.Game]             `json:"games"`
	Components   AssetConfig[*game.ContentComponent] `json:"components"`
	TemplatesDir string                              `json:"templates_dir,omitempty"`
	Types        map[string]ContentTypeConfig        `json:"types,omitempty"`
}

// ContentTypeConfig adds a component type, or replaces a built-in one.
type ContentTypeConfig struct {
	Template        string   `json:"template"`
	CssDependencies []string `json:"css_dependencies,omitempty"`
	JsDependencies  []string `json:"js_dependencies,omitempty"`
}

func (c *ContentConfig) validate() error {
	el := errors.NewErrorList()

	el.Add(c.Games.Validate("games"))
	el.Add(c.Components.Validate("components"))

	if c.TemplatesDir != "" {
		if _, err := os.Stat(c.TemplatesDir); err != nil {
			el.Add(fmt.Errorf("invalid templates_dir %q: %w", c.TemplatesDir, err))
		}
	} else if len(c.Types) > 0 {
		el.Add(fmt.Errorf("templates_dir is required when types are configured"))
	}

	for name, t := range c.Types {
		if t.Template == "" {
			el.Add(fmt.Errorf("type %s: template is required", name))
		}
	}

	if err := el.Err(); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	return nil
}

// BuildContentTypes returns the built-in component types plus the
// configured ones.
func (c *ContentConfig) BuildContentTypes() (*content.Registry, error) {
	defaults := content.DefaultRegistry()
	if len(c.Types) == 0 {
		return defaults, nil
	}

	types := map[string]content.TypeInfo{}
	for _, name := range defaults.Types() {
		info, _ := defaults.Lookup(name)
		types[name] = info
	}
	for name, t := range c.Types {
		types[name] = content.TypeInfo{
			Template:        t.Template,
			CssDependencies: t.CssDependencies,
			JsDependencies:  t.JsDependencies,
		}
	}

	return content.NewRegistry(types)
}

func (c *ContentConfig) BuildRenderer(types *content.Registry) (*content.Renderer, error) {
	return content.NewRenderer(types, c.TemplatesDir)
}

func (c *ContentConfig) BuildCatalog(types *content.Registry) (*game.Catalog, error) {
	games, err := c.Games.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating game store: %w", err)
	}
	components, err := c.Components.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating component store: %w", err)
	}

	return game.NewCatalog(games, components, types)
}

// BuildActionLibrary compiles every action set of every game, failing on
// the first game that cannot run.
func (c *ContentConfig) BuildActionLibrary(catalog *game.Catalog) (*actions.Library, error) {
	return actions.NewLibrary(actions.NewRegistry(), catalog.Games())
}

type AssetConfig[T storage.ValidatingSpec] struct {
	Path string `json:"path"`
}

func (c *AssetConfig[T]) Validate(name string) error {
	if c.Path == "" {
		return fmt.Errorf("%s: path is required", name)
	}
	_, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("%s: invalid path %q: %w", name, c.Path, err)
	}

	return nil
}

func (c *AssetConfig[T]) BuildFileStore() (*storage.FileStore[T], error) {
	return storage.NewFileStore[T](c.Path)
}
