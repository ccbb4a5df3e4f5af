package pioneer

import (
	"fmt"
	"sort"
	"strconv"
)

// SourceCatalog maps input names to two-digit receiver codes and back.
//
// Both directions are updated together, so every name has exactly one code
// and every code exactly one name. The zero value is not usable; use
// NewSourceCatalog.
type SourceCatalog struct {
	nameToCode map[string]string
	codeToName map[string]string
}

// NewSourceCatalog builds a catalog from a name→code map.
//
// Parameters:
//   - sources: Configured inputs (may be nil for an empty catalog)
//
// Returns:
//   - *SourceCatalog: Populated catalog
//   - error: ErrInvalidSourceCode or ErrDuplicateSource on bad input
func NewSourceCatalog(sources map[string]string) (*SourceCatalog, error) {
	c := &SourceCatalog{
		nameToCode: make(map[string]string, len(sources)),
		codeToName: make(map[string]string, len(sources)),
	}

	// Insert in code order so duplicate-code errors are deterministic.
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return sources[names[i]] < sources[names[j]]
	})

	for _, name := range names {
		if err := c.Add(name, sources[name]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a name/code pair.
func (c *SourceCatalog) Add(name, code string) error {
	if !ValidSourceCode(code) {
		return fmt.Errorf("%w: %q", ErrInvalidSourceCode, code)
	}
	if name == "" {
		return fmt.Errorf("%w: empty name for code %s", ErrDuplicateSource, code)
	}
	if existing, ok := c.nameToCode[name]; ok {
		return fmt.Errorf("%w: name %q already mapped to %s", ErrDuplicateSource, name, existing)
	}
	if existing, ok := c.codeToName[code]; ok {
		return fmt.Errorf("%w: code %s already mapped to %q", ErrDuplicateSource, code, existing)
	}

	c.nameToCode[name] = code
	c.codeToName[code] = name
	return nil
}

// Code returns the code for an input name.
func (c *SourceCatalog) Code(name string) (string, bool) {
	code, ok := c.nameToCode[name]
	return code, ok
}

// Name returns the input name for a code.
func (c *SourceCatalog) Name(code string) (string, bool) {
	name, ok := c.codeToName[code]
	return name, ok
}

// Len returns the number of inputs.
func (c *SourceCatalog) Len() int {
	return len(c.nameToCode)
}

// Names returns the input names ordered by code.
func (c *SourceCatalog) Names() []string {
	codes := make([]string, 0, len(c.codeToName))
	for code := range c.codeToName {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	names := make([]string, len(codes))
	for i, code := range codes {
		names[i] = c.codeToName[code]
	}
	return names
}

// Entries returns a copy of the name→code mapping.
func (c *SourceCatalog) Entries() map[string]string {
	out := make(map[string]string, len(c.nameToCode))
	for name, code := range c.nameToCode {
		out[name] = code
	}
	return out
}

// FormatSourceCode zero-pads a slot number to the two-digit wire form.
func FormatSourceCode(slot int) string {
	return fmt.Sprintf("%02d", slot)
}

// ValidSourceCode reports whether code is a two-digit slot in "00".."59".
func ValidSourceCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	n, err := strconv.Atoi(code)
	return err == nil && n >= 0 && n < MaxSourceSlots
}
