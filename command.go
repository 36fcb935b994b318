package stash

// Parameter is a single named command parameter with its value and the
// type the caller declared for it. Value is nil for database nulls.
type Parameter struct {
	Name         string
	Value        interface{}
	DeclaredType string
}

// Command is a read request: an opaque SQL text plus an ordered list of
// named parameters. The parameter order is the declaration order and is
// significant for fingerprinting.
type Command struct {
	Text       string
	Parameters []Parameter
}
