package extension

import (
	"fmt"
	"regexp"
)

// Capability is a contract extension types can implement. Every capability
// shares the base operations activate and deactivate plus the read-only
// name, category and active properties.
type Capability struct {
	// Category is the registry key extensions are filed under.
	Category string
	// Name is the global the base class is exposed as inside units.
	Name string
	// Methods are the capability-specific prototype methods.
	Methods []string
}

var baseMembers = map[string]bool{
	"activate":    true,
	"deactivate":  true,
	"name":        true,
	"category":    true,
	"active":      true,
	"constructor": true,
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// reservedGlobals cannot be used as capability names.
var reservedGlobals = map[string]bool{
	"register": true,
	"console":  true,
	"require":  true,
	"process":  true,
	"module":   true,
	"exports":  true,
	"Object":   true,
	"Function": true,
}

// ValidateCapabilities checks that caps form a usable capability set.
func ValidateCapabilities(caps []Capability) error {
	if len(caps) == 0 {
		return fmt.Errorf("%w: no capabilities", ErrInvalidCapabilitySet)
	}
	categories := make(map[string]bool, len(caps))
	names := make(map[string]bool, len(caps))
	for _, c := range caps {
		if c.Category == "" {
			return fmt.Errorf("%w: capability %q has no category", ErrInvalidCapabilitySet, c.Name)
		}
		if !identifier.MatchString(c.Name) || reservedGlobals[c.Name] {
			return fmt.Errorf("%w: %q is not a usable capability name", ErrInvalidCapabilitySet, c.Name)
		}
		if categories[c.Category] {
			return fmt.Errorf("%w: category %q declared twice", ErrInvalidCapabilitySet, c.Category)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: capability %q declared twice", ErrInvalidCapabilitySet, c.Name)
		}
		categories[c.Category] = true
		names[c.Name] = true

		seen := make(map[string]bool, len(c.Methods))
		for _, m := range c.Methods {
			switch {
			case !identifier.MatchString(m):
				return fmt.Errorf("%w: %s.%s is not a method name", ErrInvalidCapabilitySet, c.Name, m)
			case baseMembers[m]:
				return fmt.Errorf("%w: %s.%s shadows a base member", ErrInvalidCapabilitySet, c.Name, m)
			case seen[m]:
				return fmt.Errorf("%w: %s.%s declared twice", ErrInvalidCapabilitySet, c.Name, m)
			}
			seen[m] = true
		}
	}
	return nil
}

// structural lists the prototype methods a structural implementation needs.
// It is empty for a capability without methods of its own, which can then
// only be implemented by extending its base class.
func (c Capability) structural() []string {
	if len(c.Methods) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.Methods)+2)
	out = append(out, "activate", "deactivate")
	return append(out, c.Methods...)
}
