// Package render implements Tycho's Template Engine (C1): a pure function
// from (template id, context) to a sequence of manifest documents, plus the
// `$VAR` environment-substitution helper used by the parser.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	tychoerrors "github.com/stevencox/tycho/internal/errors"
)

// Document is one rendered, parsed manifest (a YAML document as a generic
// tree), ready for the projector to annotate and the driver to apply.
type Document map[string]interface{}

// Engine renders named templates found across a search path, first
// directory containing the name wins.
type Engine struct {
	searchPath []string
}

// NewEngine builds an Engine over the given search path, in priority order.
// Empty entries are skipped so callers can pass an optional override dir
// unconditionally.
func NewEngine(searchPath []string) *Engine {
	dirs := make([]string, 0, len(searchPath))
	for _, d := range searchPath {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return &Engine{searchPath: dirs}
}

func (e *Engine) find(templateID string) (string, error) {
	for _, dir := range e.searchPath {
		candidate := filepath.Join(dir, templateID)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("template %q not found in search path %v", templateID, e.searchPath)
}

func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["now"] = func() string { return time.Now().UTC().Format(time.RFC3339) }
	return fm
}

// Render executes the named template against context and parses the result
// as a sequence of YAML documents (`---`-delimited), always returning a
// slice even for single-document output.
func (e *Engine) Render(templateID string, context map[string]interface{}) ([]Document, error) {
	path, err := e.find(templateID)
	if err != nil {
		return nil, tychoerrors.TemplateErr(templateID, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, tychoerrors.TemplateErr(templateID, err)
	}

	tmpl, err := template.New(templateID).Funcs(funcMap()).Parse(string(raw))
	if err != nil {
		return nil, tychoerrors.TemplateErr(templateID, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return nil, tychoerrors.TemplateErr(templateID, err)
	}

	return parseDocuments(templateID, buf.Bytes())
}

func parseDocuments(templateID string, rendered []byte) ([]Document, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(rendered))
	var docs []Document
	for {
		var doc Document
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, tychoerrors.TemplateErr(templateID, err)
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

var (
	envLinePattern = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*)\s*$`)
	varRefPattern  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// ApplyEnvironment performs simple `$VAR` / `${VAR}` substitution of
// templateText from Bash-style `KEY=VALUE` lines in envText. Keys missing
// from the environment are left exactly as-is in the source text — this is
// safe substitution, it never raises.
func ApplyEnvironment(envText, templateText string) string {
	env := map[string]string{}
	for _, match := range envLinePattern.FindAllStringSubmatch(envText, -1) {
		env[match[1]] = strings.TrimSpace(match[2])
	}

	return varRefPattern.ReplaceAllStringFunc(templateText, func(ref string) string {
		groups := varRefPattern.FindStringSubmatch(ref)
		key := groups[1]
		if key == "" {
			key = groups[2]
		}
		if v, ok := env[key]; ok {
			return v
		}
		return ref
	})
}
