// Package messages holds every user-facing reply the relay can send.
package messages

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Catalog is the set of reply templates. Templates may reference {title},
// {url} and {detail}.
type Catalog struct {
	Welcome             string `yaml:"welcome"`
	Help                string `yaml:"help"`
	InvalidLink         string `yaml:"invalidLink"`
	Unauthorized        string `yaml:"unauthorized"`
	Placeholder         string `yaml:"placeholder"`
	BackendFailure      string `yaml:"backendFailure"`
	UnknownBackendError string `yaml:"unknownBackendError"`
	BackendUnreachable  string `yaml:"backendUnreachable"`
	FallbackLink        string `yaml:"fallbackLink"`
	UnexpectedError     string `yaml:"unexpectedError"`
	DefaultTitle        string `yaml:"defaultTitle"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	var c Catalog
	if err := yaml.Unmarshal(defaultsYAML, &c); err != nil {
		panic(fmt.Sprintf("messages: embedded defaults are invalid: %v", err))
	}
	return &c
}

// Load returns the built-in catalog with any non-empty entries from the YAML
// file at path layered on top. An empty path yields the defaults.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages file: %w", err)
	}
	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse messages file %s: %w", path, err)
	}
	c.merge(override)

	logger.Info("loaded reply catalog", "path", path)
	return c, nil
}

func (c *Catalog) merge(o Catalog) {
	set := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	set(&c.Welcome, o.Welcome)
	set(&c.Help, o.Help)
	set(&c.InvalidLink, o.InvalidLink)
	set(&c.Unauthorized, o.Unauthorized)
	set(&c.Placeholder, o.Placeholder)
	set(&c.BackendFailure, o.BackendFailure)
	set(&c.UnknownBackendError, o.UnknownBackendError)
	set(&c.BackendUnreachable, o.BackendUnreachable)
	set(&c.FallbackLink, o.FallbackLink)
	set(&c.UnexpectedError, o.UnexpectedError)
	set(&c.DefaultTitle, o.DefaultTitle)
}

// BackendFailureText renders the reply for a backend-reported failure.
func (c *Catalog) BackendFailureText(detail string) string {
	if strings.TrimSpace(detail) == "" {
		detail = c.UnknownBackendError
	}
	return render(c.BackendFailure, map[string]string{"detail": detail})
}

// FallbackLinkText renders the direct-link reply sent when upload fails.
func (c *Catalog) FallbackLinkText(title, directURL string) string {
	if title == "" {
		title = c.DefaultTitle
	}
	return render(c.FallbackLink, map[string]string{"title": title, "url": directURL})
}

func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
