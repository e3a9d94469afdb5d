// Package definition loads declarative activity trees from YAML and
// materializes them through a registry of node-kind factories. The
// on-disk schema is deliberately narrow: a tree of kind-tagged nodes,
// each carrying only the fields its kind understands.
package definition

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wforney/corewf-sub005/internal/activity"
)

// Definition describes one workflow file.
type Definition struct {
	Name      string         `yaml:"name"`
	Variables []VariableSpec `yaml:"variables,omitempty"`
	Root      NodeSpec       `yaml:"root"`
}

// VariableSpec declares a scoped variable with an optional default
// expression.
type VariableSpec struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default string `yaml:"default,omitempty"`
}

// NodeSpec is one node in the tree. Kind selects the factory; the other
// fields are that kind's configuration and are ignored by kinds that do
// not use them.
type NodeSpec struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name,omitempty"`

	Children []NodeSpec `yaml:"children,omitempty"`
	Then     *NodeSpec  `yaml:"then,omitempty"`
	Else     *NodeSpec  `yaml:"else,omitempty"`
	Body     *NodeSpec  `yaml:"body,omitempty"`

	Condition  string `yaml:"condition,omitempty"`
	To         string `yaml:"to,omitempty"`
	Value      string `yaml:"value,omitempty"`
	Text       string `yaml:"text,omitempty"`
	Expression string `yaml:"expression,omitempty"`
	Bookmark   string `yaml:"bookmark,omitempty"`
	Result     string `yaml:"result,omitempty"`

	Variables []VariableSpec `yaml:"variables,omitempty"`
}

// Load reads and validates a definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definition: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates definition bytes.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("definition: parse: %w", err)
	}
	normalized := def.Normalized()
	if err := normalized.Validate(); err != nil {
		return nil, err
	}
	return &normalized, nil
}

// Normalized returns a trimmed copy of the definition.
func (d Definition) Normalized() Definition {
	clone := Definition{
		Name: strings.TrimSpace(d.Name),
		Root: d.Root.normalized(),
	}
	if len(d.Variables) > 0 {
		clone.Variables = make([]VariableSpec, len(d.Variables))
		for i, v := range d.Variables {
			clone.Variables[i] = v.normalized()
		}
	}
	return clone
}

// Validate ensures the definition is well-formed before any factory
// runs.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("definition: name is required")
	}
	for i, v := range d.Variables {
		if err := v.validate(); err != nil {
			return fmt.Errorf("definition %s: variables[%d]: %w", d.Name, i, err)
		}
	}
	if err := d.Root.validate(); err != nil {
		return fmt.Errorf("definition %s: %w", d.Name, err)
	}
	return nil
}

func (v VariableSpec) normalized() VariableSpec {
	return VariableSpec{
		Name:    strings.TrimSpace(v.Name),
		Type:    strings.TrimSpace(v.Type),
		Default: strings.TrimSpace(v.Default),
	}
}

func (v VariableSpec) validate() error {
	if v.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := typeByName(v.Type); err != nil {
		return err
	}
	return nil
}

// Decl converts the declaration into the engine's form.
func (v VariableSpec) Decl() (activity.VariableDecl, error) {
	typ, err := typeByName(v.Type)
	if err != nil {
		return activity.VariableDecl{}, err
	}
	return activity.VariableDecl{Name: v.Name, Type: typ, Default: v.Default}, nil
}

func (n NodeSpec) normalized() NodeSpec {
	clone := n
	clone.Kind = strings.ToLower(strings.TrimSpace(n.Kind))
	clone.Name = strings.TrimSpace(n.Name)
	clone.Condition = strings.TrimSpace(n.Condition)
	clone.To = strings.TrimSpace(n.To)
	clone.Text = strings.TrimSpace(n.Text)
	clone.Expression = strings.TrimSpace(n.Expression)
	clone.Bookmark = strings.TrimSpace(n.Bookmark)
	clone.Result = strings.TrimSpace(n.Result)
	if len(n.Children) > 0 {
		clone.Children = make([]NodeSpec, len(n.Children))
		for i, child := range n.Children {
			clone.Children[i] = child.normalized()
		}
	}
	clone.Then = normalizedChild(n.Then)
	clone.Else = normalizedChild(n.Else)
	clone.Body = normalizedChild(n.Body)
	if len(n.Variables) > 0 {
		clone.Variables = make([]VariableSpec, len(n.Variables))
		for i, v := range n.Variables {
			clone.Variables[i] = v.normalized()
		}
	}
	return clone
}

func normalizedChild(spec *NodeSpec) *NodeSpec {
	if spec == nil {
		return nil
	}
	child := spec.normalized()
	return &child
}

func (n NodeSpec) validate() error {
	if n.Kind == "" {
		return fmt.Errorf("node %q: kind is required", n.Name)
	}
	for i, child := range n.Children {
		if err := child.validate(); err != nil {
			return fmt.Errorf("%s children[%d]: %w", n.Kind, i, err)
		}
	}
	for _, branch := range []*NodeSpec{n.Then, n.Else, n.Body} {
		if branch == nil {
			continue
		}
		if err := branch.validate(); err != nil {
			return fmt.Errorf("%s: %w", n.Kind, err)
		}
	}
	for i, v := range n.Variables {
		if err := v.validate(); err != nil {
			return fmt.Errorf("%s variables[%d]: %w", n.Kind, i, err)
		}
	}
	return nil
}

var scalarTypes = map[string]reflect.Type{
	"":        nil,
	"any":     nil,
	"int":     reflect.TypeOf(int(0)),
	"int64":   reflect.TypeOf(int64(0)),
	"float64": reflect.TypeOf(float64(0)),
	"string":  reflect.TypeOf(""),
	"bool":    reflect.TypeOf(false),
}

func typeByName(name string) (reflect.Type, error) {
	typ, ok := scalarTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	return typ, nil
}
