package templating

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/valyala/fasttemplate"
)

var (
	// ErrUnknownTemplate is returned when rendering a
	// name that was never registered.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrMissingVariable is returned when a placeholder
	// has no value.
	ErrMissingVariable = errors.New("missing variable")
)

// Vars maps placeholder names to values.
type Vars map[string]string

// Placeholder delimiters.
const (
	startTag = "{{"
	endTag   = "}}"
)

// Engine holds parsed templates.
type Engine struct {
	templates map[string]*fasttemplate.Template
}

// New parses every entry of sources, keyed by template
// name.
func New(sources map[string]string) (*Engine, error) {
	const errCtx = "parsing templates"

	en := &Engine{
		templates: make(map[string]*fasttemplate.Template, len(sources)),
	}

	for _, name := range slices.Sorted(maps.Keys(sources)) {
		tpl, err := fasttemplate.NewTemplate(
			sources[name], startTag, endTag,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %s: %w", errCtx, name, err,
			)
		}

		en.templates[name] = tpl
	}

	return en, nil
}

// Render expands template name against vars.
func (en *Engine) Render(name string, vars Vars) (string, error) {
	var sb strings.Builder

	if err := en.Execute(&sb, name, vars); err != nil {
		return "", err
	}

	return sb.String(), nil
}

// Execute expands template name against vars into w.
func (en *Engine) Execute(
	w io.Writer,
	name string,
	vars Vars,
) error {
	const errCtx = "rendering template"

	tpl, ok := en.templates[name]
	if !ok {
		return fmt.Errorf(
			"%s: %w: %s", errCtx, ErrUnknownTemplate, name,
		)
	}

	_, err := tpl.ExecuteFunc(
		w,
		func(w io.Writer, tag string) (int, error) {
			val, ok := vars[strings.TrimSpace(tag)]
			if !ok {
				return 0, fmt.Errorf(
					"%w: %s", ErrMissingVariable, strings.TrimSpace(tag),
				)
			}

			return io.WriteString(w, val)
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", errCtx, name, err)
	}

	return nil
}
