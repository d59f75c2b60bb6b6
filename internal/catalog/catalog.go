// Package catalog loads the event-type catalog: the CUE document that
// declares which event types exist and the criticality each one carries.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/auditchain/internal/ir"
)

//go:embed default.cue
var defaultCatalog []byte

// schema constrains every catalog document.
const schema = `
#Criticality: "high_assurance" | "best_effort"

#EventType: {
	criticality:    #Criticality
	description?:   string
	resource_type?: string
}

default_criticality: #Criticality | *"best_effort"

event_types: [string]: #EventType
`

// EventType is one catalog declaration.
type EventType struct {
	Name         string
	Criticality  ir.Criticality
	Description  string
	ResourceType string
}

// Catalog maps event type names to their declarations.
// A Catalog is immutable after loading and safe for concurrent use.
type Catalog struct {
	types       map[string]EventType
	defaultCrit ir.Criticality
}

// Error is a catalog load failure with the CUE source position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse("default.cue", defaultCatalog)
}

// Load reads a catalog from a .cue file.
func Load(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(path, src)
}

// Parse compiles src against the catalog schema and extracts every event type.
func Parse(filename string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(schema, cue.Filename("schema.cue"))
	if err := schemaVal.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schemaVal.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{types: make(map[string]EventType)}

	defaultCrit, err := v.LookupPath(cue.ParsePath("default_criticality")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	c.defaultCrit = ir.Criticality(defaultCrit)

	typesVal := v.LookupPath(cue.ParsePath("event_types"))
	if !typesVal.Exists() {
		return c, nil
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		if !ir.ValidEventType(iter.Label()) {
			return nil, &Error{
				Field:   "event_types." + iter.Label(),
				Message: "event type names must be UPPER_SNAKE_CASE",
				Pos:     iter.Value().Pos(),
			}
		}
		et, err := parseEventType(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		c.types[et.Name] = et
	}

	return c, nil
}

func parseEventType(name string, v cue.Value) (EventType, error) {
	et := EventType{Name: name}

	crit, err := v.LookupPath(cue.ParsePath("criticality")).String()
	if err != nil {
		return EventType{}, &Error{
			Field:   "event_types." + name + ".criticality",
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	et.Criticality = ir.Criticality(crit)

	if desc := v.LookupPath(cue.ParsePath("description")); desc.Exists() {
		if et.Description, err = desc.String(); err != nil {
			return EventType{}, formatCUEError(err)
		}
	}
	if rt := v.LookupPath(cue.ParsePath("resource_type")); rt.Exists() {
		if et.ResourceType, err = rt.String(); err != nil {
			return EventType{}, formatCUEError(err)
		}
	}

	return et, nil
}

// Lookup returns the declaration for name.
func (c *Catalog) Lookup(name string) (EventType, bool) {
	et, ok := c.types[name]
	return et, ok
}

// Criticality returns the declared criticality for name, or the catalog
// default when name is not declared.
func (c *Catalog) Criticality(name string) ir.Criticality {
	if et, ok := c.types[name]; ok {
		return et.Criticality
	}
	return c.defaultCrit
}

// DefaultCriticality is applied to undeclared event types.
func (c *Catalog) DefaultCriticality() ir.Criticality {
	return c.defaultCrit
}

// Names returns every declared event type, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
