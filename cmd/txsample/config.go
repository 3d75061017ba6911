package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// parseYAMLConfig is an ff config file parser for flat YAML documents. Each
// top-level key is a flag name. Sequences set the flag once per element, for
// repeatable flags.
func parseYAMLConfig(r io.Reader, set func(name, value string) error) error {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return fmt.Errorf("decode YAML: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := doc[k].(type) {
		case nil:
			continue
		case map[string]any:
			return fmt.Errorf("%s: nested objects are not supported", k)
		case []any:
			for _, e := range v {
				if err := set(k, fmt.Sprint(e)); err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
			}
		default:
			if err := set(k, fmt.Sprint(v)); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	}

	return nil
}
