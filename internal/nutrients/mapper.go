// Package nutrients maps third-party nutrient names onto canonical fields
// and scales per-serving nutrient values to a consumed amount.
package nutrients

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var aliasesYAML []byte

type fieldAliases struct {
	Field   string   `yaml:"field"`
	Aliases []string `yaml:"aliases"`
}

var (
	fieldOrder []string
	aliasIndex map[string]string // normalized alias -> canonical field
)

func init() {
	order, index, err := loadAliases(aliasesYAML)
	if err != nil {
		panic(fmt.Sprintf("nutrients: invalid alias table: %v", err))
	}
	fieldOrder, aliasIndex = order, index
}

func loadAliases(data []byte) ([]string, map[string]string, error) {
	var table []fieldAliases
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, nil, err
	}

	order := make([]string, 0, len(table))
	index := make(map[string]string)
	for _, entry := range table {
		if entry.Field == "" {
			return nil, nil, fmt.Errorf("entry without field name")
		}
		order = append(order, entry.Field)

		// The field name itself is always accepted
		for _, alias := range append([]string{entry.Field}, entry.Aliases...) {
			key := normalize(alias)
			if key == "" {
				continue
			}
			if existing, ok := index[key]; ok && existing != entry.Field {
				return nil, nil, fmt.Errorf("alias %q maps to both %s and %s", alias, existing, entry.Field)
			}
			index[key] = entry.Field
		}
	}
	return order, index, nil
}

func normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MapField returns the canonical field for a nutrient name as emitted by a
// third-party source. Unknown names return ok=false; callers drop them.
func MapField(name string) (string, bool) {
	field, ok := aliasIndex[normalize(name)]
	return field, ok
}

// Fields lists every canonical field in table order
func Fields() []string {
	out := make([]string, len(fieldOrder))
	copy(out, fieldOrder)
	return out
}
