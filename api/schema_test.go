package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransformSet(t *testing.T) {
	ts, err := ParseTransformSet([]byte(`{
		"version": "1",
		"transforms": [
			{"name": "Myhosts", "lens": "@Hosts", "incl": ["/srv/hosts"], "excl": ["*.bak"]}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "1", ts.Version)
	require.Len(t, ts.Transforms, 1)
	assert.Equal(t, Transform{Name: "Myhosts", Lens: "@Hosts", Incl: []string{"/srv/hosts"}, Excl: []string{"*.bak"}}, ts.Transforms[0])
}

func TestParseTransformSet_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":     `{"version":`,
		"missing name": `{"transforms":[{"lens":"Hosts.lns","incl":["/etc/hosts"]}]}`,
		"missing lens": `{"transforms":[{"name":"X","incl":["/etc/hosts"]}]}`,
		"missing incl": `{"transforms":[{"name":"X","lens":"Hosts.lns"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTransformSet([]byte(doc))
			assert.Error(t, err)
		})
	}
}
