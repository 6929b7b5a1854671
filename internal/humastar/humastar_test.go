package humastar

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPage(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}

	p := Page(items, 2, 3)
	assert.Equal(t, 7, p.Total)
	assert.Equal(t, []int{2, 3, 4}, p.Data)

	p = Page(items, 6, 3)
	assert.Equal(t, []int{6}, p.Data)

	p = Page(items, 10, 3)
	assert.Empty(t, p.Data)
	assert.Equal(t, 7, p.Offset)

	p = Page(items, 0, 0)
	assert.Len(t, p.Data, 7)
}

func TestPaginationLinks(t *testing.T) {
	u, _ := url.Parse("/api/v1/sessions/s1/layers/bike/features?zoom=12")
	links := Page(make([]int, 25), 10, 10).PaginationLinks(u)
	joined := strings.Join(links, "\n")

	assert.Contains(t, joined, `offset=0`)
	assert.Contains(t, joined, `rel="first"`)
	assert.Contains(t, joined, `offset=0&zoom=12>; rel="prev"`)
	assert.Contains(t, joined, `offset=20&zoom=12>; rel="next"`)
	assert.Contains(t, joined, `offset=20&zoom=12>; rel="last"`)

	links = Page(make([]int, 5), 0, 10).PaginationLinks(u)
	assert.Len(t, links, 2, "first and last only")
}

func TestActionsFor(t *testing.T) {
	actions := ActionsFor("abc", []ActionDef{
		{Rel: "home", Pattern: "/api/v1/sessions/%s/viewport/reset", Method: http.MethodPost, Title: "Return to Home"},
	})
	require.Len(t, actions, 1)
	assert.Equal(t,
		`</api/v1/sessions/abc/viewport/reset>; rel="home"; method="POST"; title="Return to Home"`,
		actions[0].LinkHeader())
}

func TestSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"query":"Union","length":"2","open":true,"zoom":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, "Union", s.String("query"))
	assert.Equal(t, 2, s.Int("length"))
	assert.True(t, s.Bool("open"))
	assert.Equal(t, 12.5, s.Float("zoom"))
	assert.False(t, s.Has("missing"))

	s, err = ParseSignals(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	in := SignalsInput{RawBody: []byte("{")}
	_, err = in.MustParse()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.GetStatus())
}

type thing struct {
	ID    string `json:"id"`
	Ready bool   `json:"ready"`
}

func (t thing) Actions() []Action {
	if !t.Ready {
		return nil
	}
	return []Action{{Rel: "start", Href: "/things/" + t.ID + "/start", Method: http.MethodPost}}
}

func TestAutoLinks(t *testing.T) {
	var links *Links
	cfg := huma.DefaultConfig("links test", "1.0.0")
	cfg.CreateHooks = nil
	cfg.Transformers = append(cfg.Transformers, LinkTransformer(func() *Links { return links }))
	_, api := humatest.New(t, cfg)

	type thingOut struct{ Body thing }
	type idIn struct {
		ID string `path:"id"`
	}
	huma.Get(api, "/health", func(ctx context.Context, _ *struct{}) (*struct{}, error) { return nil, nil })
	huma.Post(api, "/things", func(ctx context.Context, _ *struct{}) (*thingOut, error) {
		return &thingOut{Body: thing{ID: "t1"}}, nil
	})
	huma.Get(api, "/things/{id}", func(ctx context.Context, in *idIn) (*thingOut, error) {
		return &thingOut{Body: thing{ID: in.ID, Ready: true}}, nil
	})
	huma.Get(api, "/panel/{id}", func(ctx context.Context, in *idIn) (*struct{}, error) { return nil, nil },
		huma.OperationTags(PanelTag))
	links = AutoLinks(api)

	root := strings.Join(links.Root(), ", ")
	assert.Contains(t, root, `</things>; rel="things"`)
	assert.Contains(t, root, `</docs>; rel="service-doc"`)
	assert.Contains(t, strings.Join(links.For("/things"), ", "), `</things/{id}>; rel="item"`)
	assert.Contains(t, strings.Join(links.For("/things"), ", "), `rel="create-form"`)
	assert.Contains(t, strings.Join(links.For("/things/{id}"), ", "), `</things>; rel="collection"`)
	assert.Nil(t, links.For("/panel/{id}"))

	resp := api.Get("/things/t9")
	require.Equal(t, http.StatusOK, resp.Code)
	header := strings.Join(resp.Header().Values("Link"), ", ")
	assert.Contains(t, header, `</things/t9>; rel="self"`)
	assert.Contains(t, header, `</things/t9/start>; rel="start"; method="POST"`)

	var nilLinks *Links
	assert.Nil(t, nilLinks.For("/health"))
}
