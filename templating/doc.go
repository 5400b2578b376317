// Package templating renders small named templates with valyala/fasttemplate.
// Placeholders use "{{" and "}}" by default; whitespace inside a placeholder
// is ignored, so "{{ component }}" and "{{component}}" are equivalent.
//
// An Engine is built once from a fixed set of templates and is safe for
// concurrent use. Rendering fails on a placeholder with no value instead of
// silently producing an empty string.
package templating
