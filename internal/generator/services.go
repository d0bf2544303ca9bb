package generator

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// updateServicesYAML rewrites the area selector options of the add_sensor
// and synthetic_alert service definitions in place. The file is edited as a
// yaml.Node tree so comments and key order survive the rewrite.
func updateServicesYAML(path string, areasAndGroups, areas []string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if err := setSelectorOptions(&doc, "add_sensor", "areas", areasAndGroups); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := setSelectorOptions(&doc, "synthetic_alert", "area", areas); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return writeFile(path, buf.Bytes())
}

func setSelectorOptions(doc *yaml.Node, service, field string, values []string) error {
	options, err := nodeAt(doc, service, "fields", field, "selector", "select", "options")
	if err != nil {
		return fmt.Errorf("service %s: %w", service, err)
	}
	content := make([]*yaml.Node, len(values))
	for i, value := range values {
		content[i] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	}
	options.Kind = yaml.SequenceNode
	options.Tag = "!!seq"
	options.Style = 0
	options.Content = content
	return nil
}

// nodeAt walks nested mappings by key, starting at the document root.
func nodeAt(doc *yaml.Node, path ...string) (*yaml.Node, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("not a yaml document")
	}
	node := doc.Content[0]
	for _, key := range path {
		next := mappingValue(node, key)
		if next == nil {
			return nil, fmt.Errorf("missing key %q", key)
		}
		node = next
	}
	return node, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
