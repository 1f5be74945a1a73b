package server

import (
	"context"
	"sort"
)

// Names of the base-level methods every dispatcher exposes without the
// namespace segment.
const (
	MethodValidate = "validate"
	MethodTest     = "test"
)

// MethodFunc is one exposed operation. args is the decrypted argument array;
// the returned value is sent back unmodified.
type MethodFunc func(ctx context.Context, args []any) (any, error)

// Method is one entry of a dispatcher's method table.
type Method struct {
	Name       string
	Namespaced bool // Qualified as root.namespace.name when true, root.name otherwise
	Fn         MethodFunc
}

// Handler declares the operations a product exposes through a dispatcher.
type Handler interface {
	Methods() []Method
}

// Methods adapts a plain table into a Handler.
type Methods []Method

func (m Methods) Methods() []Method { return m }

// Build returns the handler's own operations, all namespaced. Entries without a
// name or function, duplicates and names taken by base-level methods are
// dropped, so a handler that only repeats base methods yields nothing.
func Build(h Handler) []Method {
	if h == nil {
		return nil
	}
	var out []Method
	seen := make(map[string]bool)
	for _, m := range h.Methods() {
		if m.Name == "" || m.Fn == nil || isBase(m.Name) || seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		m.Namespaced = true
		out = append(out, m)
	}
	return out
}

func isBase(name string) bool {
	return name == MethodValidate || name == MethodTest
}

// QualifiedName returns root.[namespace.]name for m.
func QualifiedName(root, namespace string, m Method) string {
	if m.Namespaced {
		return root + "." + namespace + "." + m.Name
	}
	return root + "." + m.Name
}

// Qualify maps every entry to its qualified name.
func Qualify(entries []Method, root, namespace string) map[string]Method {
	table := make(map[string]Method, len(entries))
	for _, m := range entries {
		table[QualifiedName(root, namespace, m)] = m
	}
	return table
}

func sortedNames(table map[string]Method) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
