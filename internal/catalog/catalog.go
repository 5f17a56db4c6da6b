// Package catalog holds the static mapping from trigger events to message
// templates and their variable schemas.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"guardian-notify/internal/common/clock"
	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Registry is the on-disk template registry format.
type Registry struct {
	Version     string                      `json:"version"`
	LastUpdated string                      `json:"lastUpdated"`
	Templates   []models.TemplateDefinition `json:"templates"`
}

type cacheEntry struct {
	registry *Registry
	loadedAt time.Time
}

// Catalog loads the template registry from disk and renders templates with
// resolved variables. The registry file is re-read when the cache expires.
type Catalog struct {
	path     string
	cacheTTL time.Duration
	clock    clock.Clock

	mu    sync.RWMutex
	cache *cacheEntry
}

func New(path string, cacheTTL time.Duration, clk clock.Clock) *Catalog {
	return &Catalog{
		path:     path,
		cacheTTL: cacheTTL,
		clock:    clk,
	}
}

// Lookup returns the template with the given id.
func (c *Catalog) Lookup(templateID string) (*models.TemplateDefinition, error) {
	reg, err := c.load()
	if err != nil {
		return nil, err
	}
	for i := range reg.Templates {
		if reg.Templates[i].ID == templateID {
			return &reg.Templates[i], nil
		}
	}
	return nil, stderrors.NewTemplateNotFoundError(templateID)
}

// LookupByTrigger returns every template registered for a trigger kind.
func (c *Catalog) LookupByTrigger(kind models.EventKind) ([]models.TemplateDefinition, error) {
	reg, err := c.load()
	if err != nil {
		return nil, err
	}
	var out []models.TemplateDefinition
	for _, t := range reg.Templates {
		if t.TriggerKind == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

// Rendered is the immutable output of a template render.
type Rendered struct {
	TemplateID string
	Subject    string
	Body       string
}

// Render validates variables against the template's schema and substitutes
// every {{placeholder}} token. Unresolved placeholders are render errors:
// text with literal tokens must never reach the queue.
func (c *Catalog) Render(templateID string, variables map[string]interface{}) (*Rendered, error) {
	tmpl, err := c.Lookup(templateID)
	if err != nil {
		return nil, err
	}

	if err := validateVariables(tmpl, variables); err != nil {
		return nil, err
	}

	subject := substitute(tmpl.Subject, variables)
	body := substitute(tmpl.Body, variables)

	if leftover := placeholderPattern.FindString(subject + body); leftover != "" {
		return nil, stderrors.NewMissingTemplateVariablesError(
			templateID, fmt.Sprintf("unresolved placeholder %s", leftover))
	}

	return &Rendered{TemplateID: templateID, Subject: subject, Body: body}, nil
}

func validateVariables(tmpl *models.TemplateDefinition, variables map[string]interface{}) error {
	if len(tmpl.VariableSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(tmpl.VariableSchema)
	documentLoader := gojsonschema.NewGoLoader(variables)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return stderrors.NewMissingTemplateVariablesError(tmpl.ID, err.Error())
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return stderrors.NewMissingTemplateVariablesError(tmpl.ID, strings.Join(errs, "; "))
	}

	return nil
}

// substitute replaces {{key}} tokens, resolving dotted paths into nested
// variable maps. Unknown keys are left in place for the caller to reject.
func substitute(text string, variables map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		key := strings.TrimSpace(token[2 : len(token)-2])
		value := lookupNestedValue(variables, key)
		if value == nil {
			return token
		}
		return fmt.Sprintf("%v", value)
	})
}

func lookupNestedValue(data map[string]interface{}, key string) interface{} {
	parts := strings.Split(key, ".")
	current := interface{}(data)

	for _, part := range parts {
		currentMap, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}

		val, exists := currentMap[part]
		if !exists {
			return nil
		}

		current = val
	}

	return current
}

func (c *Catalog) load() (*Registry, error) {
	c.mu.RLock()
	if c.cache != nil && c.clock.Now().Sub(c.cache.loadedAt) < c.cacheTTL {
		reg := c.cache.registry
		c.mu.RUnlock()
		return reg, nil
	}
	c.mu.RUnlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read template registry: %w", err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse template registry: %w", err)
	}

	c.mu.Lock()
	c.cache = &cacheEntry{registry: &reg, loadedAt: c.clock.Now()}
	c.mu.Unlock()

	return &reg, nil
}
