package api

import (
	"fmt"

	"github.com/ohler55/ojg/oj"
)

// TransformSet is the content of one transform file on the load path.
// It tells a session which files to read with which lens.
type TransformSet struct {
	// Version of the transform schema.
	Version string `json:"version"`
	// Transforms to register under /augeas/load.
	Transforms []Transform `json:"transforms,omitempty"`
}

// Transform binds a lens to a set of files.
type Transform struct {
	// Name of the transform; it becomes /augeas/load/<Name>.
	Name string `json:"name"`
	// Lens is a registered lens name such as "Hosts.lns" or "@Hosts".
	Lens string `json:"lens"`
	// Incl are glob patterns of files to load.
	Incl []string `json:"incl"`
	// Excl are glob patterns of files to skip. Patterns without a slash
	// match the file's base name.
	Excl []string `json:"excl,omitempty"`
}

// ParseTransformSet decodes and validates a transform file.
func ParseTransformSet(data []byte) (*TransformSet, error) {
	var ts TransformSet
	if err := oj.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("decode transform set: %w", err)
	}
	for i, t := range ts.Transforms {
		switch {
		case t.Name == "":
			return nil, fmt.Errorf("transform %d: missing name", i)
		case t.Lens == "":
			return nil, fmt.Errorf("transform %s: missing lens", t.Name)
		case len(t.Incl) == 0:
			return nil, fmt.Errorf("transform %s: no incl patterns", t.Name)
		}
	}
	return &ts, nil
}
