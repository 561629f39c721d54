// Package greetconfig loads the greeting-system configuration document and
// turns it into a domain.GreetingConfig.
package greetconfig

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sulthonmb/greeting-app/internal/domain"
)

var (
	// ErrConfigNotFound is returned when no document exists for the name.
	ErrConfigNotFound = errors.New("greeting config not found")
	// ErrConfigMalformed is returned when the document cannot be parsed
	// into a GreetingConfig.
	ErrConfigMalformed = errors.New("greeting config malformed")
)

//go:embed schema.json
var schemaDocument []byte

const schemaRef = "greeting-config.json"

// Lookup fetches the raw configuration document stored under name.
// Implementations return ErrConfigNotFound when the document is absent.
type Lookup interface {
	FindConfig(ctx context.Context, name string) ([]byte, error)
}

// Provider reads and validates configuration documents. It holds no state
// between calls; every Load reads the document fresh.
type Provider struct {
	lookup Lookup
	schema *jsonschema.Schema
}

func NewProvider(lookup Lookup) (*Provider, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaRef, bytes.NewReader(schemaDocument)); err != nil {
		return nil, fmt.Errorf("add config schema: %w", err)
	}
	schema, err := c.Compile(schemaRef)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return &Provider{lookup: lookup, schema: schema}, nil
}

// Load fetches the document named name and decodes the section stored under
// the top-level key of the same name.
func (p *Provider) Load(ctx context.Context, name string) (domain.GreetingConfig, error) {
	raw, err := p.lookup.FindConfig(ctx, name)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return domain.GreetingConfig{}, err
		}
		return domain.GreetingConfig{}, fmt.Errorf("lookup config %q: %w", name, err)
	}
	return p.Parse(raw, name)
}

// Parse validates and decodes the section of document stored under name.
func (p *Provider) Parse(document []byte, name string) (domain.GreetingConfig, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(document, &root); err != nil {
		return domain.GreetingConfig{}, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}

	section, ok := root[name]
	if !ok || len(section) == 0 || string(section) == "null" {
		return domain.GreetingConfig{}, fmt.Errorf("%w: missing top-level key %q", ErrConfigMalformed, name)
	}

	var doc any
	if err := json.Unmarshal(section, &doc); err != nil {
		return domain.GreetingConfig{}, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return domain.GreetingConfig{}, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}

	var cfg domain.GreetingConfig
	if err := json.Unmarshal(section, &cfg); err != nil {
		return domain.GreetingConfig{}, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	if cfg.MessageTemplates == nil || cfg.Schedule == nil {
		return domain.GreetingConfig{}, fmt.Errorf("%w: messageTemplates and schedule are required", ErrConfigMalformed)
	}
	return cfg, nil
}
