package templates

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Fragments(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	html, err := r.Render("legend-row", map[string]string{"Label": "Bike Lanes", "Color": "red"})
	require.NoError(t, err)
	assert.Contains(t, html, "background-color: red")
	assert.Contains(t, html, "Bike Lanes")

	html, err = r.Render("select-option", map[string]string{"Value": "1", "Label": "Length > 1000m"})
	require.NoError(t, err)
	assert.Equal(t, `<option value="1">Length &gt; 1000m</option>`, html)

	_, err = r.Render("no-such-fragment", nil)
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	r, err := New(fstest.MapFS{"a.html": {Data: []byte(`{{define "x"}}one{{end}}`)}})
	require.NoError(t, err)
	assert.Equal(t, "one", r.MustRender("x", nil))

	require.NoError(t, r.Reload(fstest.MapFS{"a.html": {Data: []byte(`{{define "x"}}two{{end}}`)}}))
	assert.Equal(t, "two", r.MustRender("x", nil))

	assert.Error(t, r.Reload(fstest.MapFS{"a.html": {Data: []byte(`{{define "x"}}`)}}))
	assert.Equal(t, "two", r.MustRender("x", nil), "failed reload keeps old templates")
}
