package index

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
)

var (
	ErrCatalogParse   = errors.New("catalog is not valid")
	ErrInvalidEntry   = errors.New("invalid catalog entry")
	ErrUnknownPackage = errors.New("package not in catalog")
)

const entrySchemaJSON = `{
	"type": "object",
	"required": ["name", "version", "path"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"version": {"type": "string", "minLength": 1},
		"path": {"type": "string", "minLength": 1}
	}
}`

var (
	schemaOnce  sync.Once
	entrySchema *jsonschema.Schema
	schemaErr   error
)

// getSchema compiles the entry schema once.
func getSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(entrySchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("entry.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		entrySchema, schemaErr = c.Compile("entry.schema.json")
	})
	return entrySchema, schemaErr
}

// Entry is one package of a catalog.
type Entry struct {
	Name    string
	Version string
	Path    string
	Fields  map[string]any
}

// Catalog is an ordered set of entries.
type Catalog struct {
	entries []Entry
	byName  map[string]int
}

// ParseJSON parses a JSON catalog.
func ParseJSON(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 || !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed json", ErrCatalogParse)
	}
	c := newCatalog()
	root := gjson.ParseBytes(data)

	var err error
	switch {
	case root.IsObject():
		root.ForEach(func(key, value gjson.Result) bool {
			err = c.add(key.String(), []byte(value.Raw))
			return err == nil
		})
	case root.IsArray():
		root.ForEach(func(_, value gjson.Result) bool {
			err = c.add("", []byte(value.Raw))
			return err == nil
		})
	default:
		return nil, fmt.Errorf("%w: want an object or a list", ErrCatalogParse)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ParseYAML parses a YAML catalog.
func ParseYAML(data []byte) (*Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCatalogParse)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogParse, err)
	}
	c := newCatalog()

	switch list := doc.(type) {
	case []any:
		for _, item := range list {
			if err := c.addValue("", item); err != nil {
				return nil, err
			}
		}
	case map[string]any:
		// Decode again to keep the document's key order.
		var ordered yaml.MapSlice
		if err := yaml.Unmarshal(data, &ordered); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogParse, err)
		}
		for _, item := range ordered {
			if err := c.addValue(fmt.Sprint(item.Key), item.Value); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: want a mapping or a sequence", ErrCatalogParse)
	}
	return c, nil
}

// addValue adds a decoded YAML value by way of its JSON form.
func (c *Catalog) addValue(key string, v any) error {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogParse, err)
	}
	return c.add(key, raw)
}

// Parse picks the decoder from the file name suffix, JSON by default.
func Parse(name string, data []byte) (*Catalog, error) {
	if isYAML(name) {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

func isYAML(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

func newCatalog() *Catalog {
	return &Catalog{byName: make(map[string]int)}
}

// add validates one raw JSON entry. key is the object key it was found
// under, empty for list catalogs.
func (c *Catalog) add(key string, raw []byte) error {
	schema, err := getSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogParse, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidEntry, key, err)
	}

	var fields map[string]any
	if err := sonic.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalogParse, err)
	}
	e := Entry{
		Name:    fields["name"].(string),
		Version: fields["version"].(string),
		Path:    fields["path"].(string),
		Fields:  fields,
	}
	if key != "" && key != e.Name {
		return fmt.Errorf("%w: key %q holds package %q", ErrInvalidEntry, key, e.Name)
	}
	if _, dup := c.byName[e.Name]; dup {
		return fmt.Errorf("%w: %q listed twice", ErrInvalidEntry, e.Name)
	}
	c.byName[e.Name] = len(c.entries)
	c.entries = append(c.entries, e)
	return nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Packages returns the entries in catalog order.
func (c *Catalog) Packages() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns the entry of name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Find returns the names containing substr, ignoring case, in catalog order.
func (c *Catalog) Find(substr string) []string {
	needle := strings.ToLower(substr)
	matches := []string{}
	for _, e := range c.entries {
		if strings.Contains(strings.ToLower(e.Name), needle) {
			matches = append(matches, e.Name)
		}
	}
	return matches
}
