package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Loads(t *testing.T) {
	tpl := Default()

	assert.NotEmpty(t, tpl.Version)
	for _, name := range []string{"language", "method", "output", "ethics"} {
		_, ok := tpl.Section(name)
		assert.True(t, ok, "missing section %s", name)
	}
}

func TestRender_OrdersSections(t *testing.T) {
	tpl, err := Parse([]byte(`
version: v1
preamble: Tu es Parrit.
sections:
  - name: a
    title: PREMIER
    body: un
  - name: b
    title: SECOND
    body: deux
`))
	require.NoError(t, err)

	out := tpl.Render()
	assert.True(t, strings.HasPrefix(out, "Tu es Parrit."))
	assert.Less(t, strings.Index(out, "## PREMIER"), strings.Index(out, "## SECOND"))
	assert.Contains(t, out, "## SECOND\n\ndeux")
}

func TestCompose(t *testing.T) {
	tpl := Default()
	base := tpl.Render()

	assert.Equal(t, base, tpl.Compose("  "))

	out := tpl.Compose("## CONTEXTE\nAppel 1")
	assert.True(t, strings.HasPrefix(out, base))
	assert.True(t, strings.HasSuffix(out, "## CONTEXTE\nAppel 1"))
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"no version":   "sections: []",
		"unnamed":      "version: v1\nsections:\n  - title: X\n",
		"duplicate":    "version: v1\nsections:\n  - name: a\n  - name: a\n",
		"invalid yaml": "version: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
