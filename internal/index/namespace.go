// Package index provides per-namespace vector retrieval over
// PostgreSQL with pgvector.
package index

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownNamespace indicates the requested documentation namespace
// is not registered.
var ErrUnknownNamespace = errors.New("unknown namespace")

// Namespace identifies a documentation corpus.
type Namespace string

// Registered documentation namespaces.
const (
	NamespaceFastAPI Namespace = "fastapi"
	NamespaceDjango  Namespace = "django"
	NamespaceRails   Namespace = "rails"
)

// Namespaces returns all registered namespaces in display order.
func Namespaces() []Namespace {
	return []Namespace{NamespaceFastAPI, NamespaceDjango, NamespaceRails}
}

// ParseNamespace normalizes and validates a namespace string.
func ParseNamespace(s string) (Namespace, error) {
	ns := Namespace(strings.ToLower(strings.TrimSpace(s)))
	switch ns {
	case NamespaceFastAPI, NamespaceDjango, NamespaceRails:
		return ns, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNamespace, s)
	}
}

// DisplayName returns the human-facing framework name used in
// completion prompts.
func (n Namespace) DisplayName() string {
	switch n {
	case NamespaceFastAPI:
		return "FastAPI"
	case NamespaceDjango:
		return "Django"
	case NamespaceRails:
		return "Ruby on Rails"
	default:
		return string(n)
	}
}
