package importer

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"signet/internal/account"
)

// parseYAML accepts the same two shapes as JSON. Mapping nodes are walked
// directly so keys keep their file order.
func parseYAML(r io.Reader) ([]Record, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	doc := root.Content[0]

	switch doc.Kind {
	case yaml.SequenceNode:
		records := make([]Record, 0, len(doc.Content))
		for i, item := range doc.Content {
			fields, err := flatMapping(item)
			if err != nil {
				return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidDocument, i, err)
			}
			records = append(records, Record{Index: i, Fields: fields})
		}
		return records, nil

	case yaml.MappingNode:
		var ed entriesDocument
		if err := doc.Decode(&ed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		if ed.Entries == nil {
			return nil, fmt.Errorf("%w: missing entries", ErrInvalidDocument)
		}
		records := make([]Record, len(ed.Entries))
		for i, e := range ed.Entries {
			for _, f := range e.Fields {
				if f.Name == "" {
					return nil, fmt.Errorf("%w: record %d: field without a name", ErrInvalidDocument, i)
				}
			}
			records[i] = Record{Index: i, Fields: e.Fields}
		}
		return records, nil
	}
	return nil, fmt.Errorf("%w: top level must be a list or a mapping", ErrInvalidDocument)
}

func flatMapping(n *yaml.Node) ([]account.GenericField, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	fields := make([]account.GenericField, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind == yaml.AliasNode {
			v = v.Alias
		}
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %q is not a scalar", v.Line, k.Value)
		}
		if v.Tag == "!!null" {
			continue
		}
		fields = append(fields, account.GenericField{Name: k.Value, Value: v.Value})
	}
	return fields, nil
}
