package utils

import (
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// DecodeYAMLList parses a YAML sequence into values of T, item by item.
// Malformed items are skipped so one bad row in a hand-edited file does not
// block the rest; the skipped count is returned for the caller to surface.
// Decoding fails only when the document is not a sequence or when every
// item is invalid.
func DecodeYAMLList[T any](data []byte) ([]*T, int, error) {
	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, 0, errors.Wrap(err, "yaml document is not a sequence")
	}

	results := make([]*T, 0, len(nodes))
	var firstErr error
	skipped := 0
	for i := range nodes {
		var item T
		if err := nodes[i].Decode(&item); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "item %d", i)
			}
			skipped++
			continue
		}
		results = append(results, &item)
	}

	if len(results) == 0 && firstErr != nil {
		return nil, skipped, errors.Wrap(firstErr, "no items decoded")
	}
	return results, skipped, nil
}
