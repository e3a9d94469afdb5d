package activity

// Base provides common declaration plumbing for activities (name plus
// argument/variable lists). Concrete activities embed it and implement
// Execute themselves.
type Base struct {
	name      string
	arguments []ArgumentDecl
	variables []VariableDecl
}

// NewBase seeds the helper with the activity name.
func NewBase(name string) Base {
	return Base{name: name}
}

// SetArguments declares the activity's arguments.
func (b *Base) SetArguments(decls ...ArgumentDecl) {
	b.arguments = append([]ArgumentDecl{}, decls...)
}

// SetVariables declares the activity's variables.
func (b *Base) SetVariables(decls ...VariableDecl) {
	b.variables = append([]VariableDecl{}, decls...)
}

// AddVariables declares further variables without disturbing ones the
// activity itself planted.
func (b *Base) AddVariables(decls ...VariableDecl) {
	b.variables = append(b.variables, decls...)
}

// Name implements Activity.Name.
func (b *Base) Name() string {
	return b.name
}

// Arguments implements Activity.Arguments.
func (b *Base) Arguments() []ArgumentDecl {
	return append([]ArgumentDecl{}, b.arguments...)
}

// Variables implements Activity.Variables.
func (b *Base) Variables() []VariableDecl {
	return append([]VariableDecl{}, b.variables...)
}
