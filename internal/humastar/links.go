package humastar

import (
	"fmt"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// PanelTag marks Datastar SSE operations; they get no discovery links.
const PanelTag = "panel"

// Links stores generated RFC 8288 Link header values keyed by operation path.
type Links struct {
	paths map[string][]string
}

// AutoLinks walks the OpenAPI spec and generates hypermedia links.
// Call after all routes are registered.
func AutoLinks(api huma.API) *Links {
	oapi := api.OpenAPI()
	l := &Links{paths: map[string][]string{}}

	var collections, items []string
	for p, pi := range oapi.Paths {
		if hasTag(primaryTags(pi), PanelTag) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}

	// Item → parent: collection + up when the parent is a collection,
	// up only when it is another item.
	for _, item := range items {
		parent := path.Dir(item)
		if _, ok := oapi.Paths[parent]; !ok {
			continue
		}
		if !strings.HasSuffix(parent, "}") {
			l.add(item, parent, "collection")
		}
		l.add(item, parent, "up")
	}

	// Collection → item template.
	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item) == coll {
				l.add(coll, item, "item")
			}
		}
	}

	for _, coll := range collections {
		if coll != "/health" {
			l.add(coll, "/health", "up")
		}
		if pi := oapi.Paths[coll]; pi.Post != nil {
			l.add(coll, coll, "create-form")
		}
	}
	for _, item := range items {
		if pi := oapi.Paths[item]; pi.Put != nil || pi.Patch != nil {
			l.add(item, item, "edit")
		}
	}

	// /health is the entry point.
	for _, coll := range collections {
		if coll == "/health" {
			continue
		}
		l.add("/health", coll, lastSegment(coll))
	}
	l.add("/health", "/openapi.json", "describedby")
	l.add("/health", "/openapi.json", "service-desc")
	l.add("/health", "/docs", "service-doc")

	for _, all := range [][]string{collections, items} {
		for _, p := range all {
			if ref := responseSchemaRef(oapi.Paths[p]); ref != "" {
				l.add(p, "/openapi.json#/components/schemas/"+ref, "describedby")
			}
		}
	}

	// Document the relationships in the OpenAPI document itself.
	for p, pi := range oapi.Paths {
		headers, ok := l.paths[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
	return l
}

// For returns the Link header values generated for an operation path.
func (l *Links) For(p string) []string {
	if l == nil {
		return nil
	}
	return l.paths[p]
}

// Root returns the entry point links, for non-Huma handlers such as the page.
func (l *Links) Root() []string { return l.For("/health") }

// LinkTransformer returns a Huma Transformer that emits Link headers: the
// generated ones for the operation (looked up through links, which is read
// on every response so AutoLinks may run after the transformer is installed),
// a self link on item paths, pagination links and state-dependent actions.
func LinkTransformer(links func() *Links) huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links().For(op.Path) {
			ctx.AppendHeader("Link", link)
		}

		u := ctx.URL()
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, u.Path))
		}

		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(&u) {
				ctx.AppendHeader("Link", link)
			}
		}

		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}

func (l *Links) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	for _, existing := range l.paths[from] {
		if existing == val {
			return
		}
	}
	l.paths[from] = append(l.paths[from], val)
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

// injectResponseLinks adds OpenAPI Link objects to the operation's success
// response.
func injectResponseLinks(op *huma.Operation, headers []string) {
	if op.Responses == nil {
		return
	}
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  fmt.Sprintf("Related: %s", rel),
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil || pi.Get.Responses == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				parts := strings.Split(mt.Schema.Ref, "/")
				return parts[len(parts)-1]
			}
		}
	}
	return ""
}

func parseLinkHeader(h string) (rel, href string) {
	parts := strings.SplitN(h, ";", 2)
	if len(parts) < 2 {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(parts[0]), "<>")
	relPart := strings.TrimSpace(parts[1])
	if strings.HasPrefix(relPart, `rel="`) {
		rel = strings.Trim(relPart[4:], `"`)
	}
	return rel, href
}
