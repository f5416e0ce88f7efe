package content

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"os"

	"github.com/Masterminds/sprig/v3"
	"github.com/pixil98/go-quest/internal/game"
)

//go:embed templates/*.html
var builtinTemplates embed.FS

const pageTemplate = "page.html"

// templateFuncs provides sprig's helpers plus raw passthroughs for authored
// markup and scripts, which come from trusted game content.
var templateFuncs = func() template.FuncMap {
	fm := sprig.HtmlFuncMap()
	fm["rawHTML"] = func(s string) template.HTML { return template.HTML(s) }
	fm["rawJS"] = func(s string) template.JS { return template.JS(s) }
	return fm
}()

// Renderer turns a component type and its vars into markup.
type Renderer struct {
	registry *Registry
	tmpl     *template.Template
}

// NewRenderer parses the templates for every registered type. When dir is
// empty the built-in templates are used.
func NewRenderer(registry *Registry, dir string) (*Renderer, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(builtinTemplates, "templates")
		if err != nil {
			return nil, fmt.Errorf("opening built-in templates: %w", err)
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}

	names := []string{pageTemplate}
	for _, t := range registry.Types() {
		info, _ := registry.Lookup(t)
		names = append(names, info.Template)
	}

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(fsys, names...)
	if err != nil {
		return nil, fmt.Errorf("parsing content templates: %w", err)
	}

	return &Renderer{registry: registry, tmpl: tmpl}, nil
}

// Render executes the template registered for componentType.
func (r *Renderer) Render(componentType string, vars map[string]any) (string, error) {
	info, ok := r.registry.Lookup(componentType)
	if !ok {
		return "", fmt.Errorf("unknown content type %q", componentType)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, info.Template, vars); err != nil {
		return "", fmt.Errorf("rendering %s: %w", componentType, err)
	}
	return buf.String(), nil
}

type pageData struct {
	Id              string
	Type            string
	Body            template.HTML
	Data            template.JS
	CssDependencies []string
	JsDependencies  []string
}

// RenderPage renders the full iframe document for a placed component.
func (r *Renderer) RenderPage(id string, comp *game.ContentComponent) ([]byte, error) {
	vars, err := comp.TemplateVars()
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", id, err)
	}

	body, err := r.Render(comp.Type, vars)
	if err != nil {
		return nil, err
	}

	data := comp.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	info, _ := r.registry.Lookup(comp.Type)
	page := pageData{
		Id:              id,
		Type:            comp.Type,
		Body:            template.HTML(body),
		Data:            template.JS(data),
		CssDependencies: append(append([]string{}, info.CssDependencies...), comp.CssDependencies...),
		JsDependencies:  append(append([]string{}, info.JsDependencies...), comp.JsDependencies...),
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, pageTemplate, page); err != nil {
		return nil, fmt.Errorf("rendering page for %s: %w", id, err)
	}
	return buf.Bytes(), nil
}
