package lens

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the lenses a session can use, keyed by name, together
// with the files each lens handles by default.
type Registry struct {
	lenses map[string]Lens
	incl   map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{lenses: make(map[string]Lens), incl: make(map[string][]string)}
}

// Builtin returns a registry with every lens in this package.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(Hosts{}, "/etc/hosts")
	r.Register(Shellvars{}, "/etc/default/*", "/etc/sysconfig/*", "/etc/environment")
	r.Register(Spacevars{}, "/etc/ssh/sshd_config", "/etc/ssh/ssh_config")
	r.Register(HCL{}, "/etc/*.hcl", "/etc/*/*.hcl")
	r.Register(YAML{}, "/etc/netplan/*.yaml", "/etc/*.yaml", "/etc/*.yml")
	return r
}

// CanonicalName turns "@Hosts" and "Hosts" into "Hosts.lns".
func CanonicalName(name string) string {
	name = strings.TrimPrefix(name, "@")
	if !strings.HasSuffix(name, ".lns") {
		name += ".lns"
	}
	return name
}

// Register adds l, replacing any lens of the same name. incl are the
// default include globs used when transforms are loaded automatically.
func (r *Registry) Register(l Lens, incl ...string) {
	name := CanonicalName(l.Name())
	r.lenses[name] = l
	r.incl[name] = append([]string(nil), incl...)
}

func (r *Registry) Lookup(name string) (Lens, error) {
	l, ok := r.lenses[CanonicalName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLens, name)
	}
	return l, nil
}

// Names lists registered lenses in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.lenses))
	for n := range r.lenses {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Includes(name string) []string {
	return append([]string(nil), r.incl[CanonicalName(name)]...)
}
