package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLSchema mirrors the teacher's schema_dynamodb.yaml shape
// (dynamodb/schema/schema.go) adapted to this record layer's key-expression
// and index-kind model. It is a convenience loader only: the canonical
// Schema type (schema.Schema) is what the core consumes, exactly as
// spec.md §6 requires — nothing in the core reads YAML.
type YAMLSchema struct {
	RecordTypes []yamlRecordType `yaml:"recordTypes"`
	Indexes     []yamlIndex      `yaml:"indexes"`
}

type yamlRecordType struct {
	Name       string   `yaml:"name"`
	PrimaryKey []string `yaml:"primaryKey"`
}

type yamlIndex struct {
	Name       string   `yaml:"name"`
	RecordType string   `yaml:"recordType"`
	Kind       string   `yaml:"kind"`
	KeyExpr    []string `yaml:"keyExpr,omitempty"`
	Unique     bool     `yaml:"unique,omitempty"`
	Grouping   []string `yaml:"grouping,omitempty"`
	Value      string   `yaml:"value,omitempty"`
}

// ParseYAML parses a YAML document in the YAMLSchema shape into a resolved
// Schema, constructing Field/Concatenate KeyExpression trees from the
// listed field-path lists.
func ParseYAML(data []byte) (*Schema, error) {
	var y YAMLSchema
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("schema: parse yaml: %w", err)
	}

	recordTypes := make([]RecordType, 0, len(y.RecordTypes))
	for _, rt := range y.RecordTypes {
		if len(rt.PrimaryKey) == 0 {
			return nil, fmt.Errorf("schema: record type %q: primaryKey must list at least one field", rt.Name)
		}
		recordTypes = append(recordTypes, RecordType{
			Name:       rt.Name,
			PrimaryKey: fieldExprFromPaths(rt.PrimaryKey),
		})
	}

	indexes := make([]Index, 0, len(y.Indexes))
	for _, yi := range y.Indexes {
		idx := Index{
			Name:       yi.Name,
			RecordType: yi.RecordType,
			Kind:       IndexKind(strings.ToLower(yi.Kind)),
			Unique:     yi.Unique,
		}
		if len(yi.KeyExpr) > 0 {
			idx.KeyExpr = fieldExprFromPaths(yi.KeyExpr)
		}
		if len(yi.Grouping) > 0 {
			idx.GroupingExpr = fieldExprFromPaths(yi.Grouping)
		}
		if yi.Value != "" {
			idx.ValueExpr = Field{Path: yi.Value}
		}
		indexes = append(indexes, idx)
	}

	return New(recordTypes, indexes)
}

func fieldExprFromPaths(paths []string) KeyExpression {
	if len(paths) == 1 {
		return Field{Path: paths[0]}
	}
	children := make([]KeyExpression, len(paths))
	for i, p := range paths {
		children[i] = Field{Path: p}
	}
	return Concatenate{Children: children}
}
