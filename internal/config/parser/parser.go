package parser

import (
	"net/url"
	"strings"

	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

// Compiler turns a connection URI into an outbound descriptor.
type Compiler interface {
	// Compile parses uri and returns the outbound tagged "proxy".
	Compile(uri string) (*models.Outbound, error)

	// Scheme returns the URI scheme handled by the compiler
	Scheme() string
}

// Registry manages compilers by URI scheme
type Registry struct {
	compilers map[string]Compiler
}

// NewRegistry creates a new compiler registry
func NewRegistry() *Registry {
	r := &Registry{
		compilers: make(map[string]Compiler),
	}

	r.Register(&VLESSCompiler{})

	return r
}

// Register registers a new compiler
func (r *Registry) Register(c Compiler) {
	r.compilers[strings.ToLower(c.Scheme())] = c
}

// Get retrieves a compiler by scheme
func (r *Registry) Get(scheme string) (Compiler, bool) {
	c, ok := r.compilers[strings.ToLower(scheme)]
	return c, ok
}

// AutoDetect picks the compiler for the URI's scheme.
func (r *Registry) AutoDetect(uri string) (Compiler, error) {
	uri = strings.TrimSpace(uri)

	idx := strings.Index(uri, "://")
	if idx == -1 {
		return nil, &pkgerrors.ValidationError{Field: "scheme", Reason: "missing scheme"}
	}

	scheme := strings.ToLower(uri[:idx])
	c, ok := r.Get(scheme)
	if !ok {
		return nil, &pkgerrors.ValidationError{Field: "scheme", Reason: "only vless:// is supported, got " + scheme}
	}

	return c, nil
}

// Compile compiles a URI using the auto-detected scheme
func (r *Registry) Compile(uri string) (*models.Outbound, error) {
	c, err := r.AutoDetect(uri)
	if err != nil {
		return nil, err
	}

	return c.Compile(uri)
}

var defaultRegistry = NewRegistry()

// Compile compiles uri with the built-in compilers.
func Compile(uri string) (*models.Outbound, error) {
	return defaultRegistry.Compile(uri)
}

// Label returns a display name for a URI: its decoded fragment, or
// host:port when the fragment is empty.
func Label(uri string) string {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return uri
	}
	if u.Fragment != "" {
		return u.Fragment
	}
	return u.Host
}
