package attachments

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Anchor builds <a href="base/id" title="name"> for the descriptor.
func (d Descriptor) Anchor(baseURL string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.A,
		Data:     "a",
		Attr: []html.Attribute{
			{Key: "href", Val: itemURL(baseURL, d.ID)},
			{Key: "title", Val: d.Name},
		},
	}
}

// List renders the collection as <ul><li><a/></li>...</ul>.
func (c *Collection) List() *html.Node {
	ul := element(atom.Ul)
	for _, d := range c.items {
		li := element(atom.Li)
		li.AppendChild(d.Anchor(c.baseURL))
		ul.AppendChild(li)
	}
	return ul
}

// GalleryLinks returns one loose anchor per descriptor, in order, which is the
// input the lightbox widget expects.
func (c *Collection) GalleryLinks() []*html.Node {
	out := make([]*html.Node, 0, len(c.items))
	for _, d := range c.items {
		a := d.Anchor(c.baseURL)
		a.Attr = append(a.Attr,
			html.Attribute{Key: "data-kind", Val: string(Kind(d.ContentType))},
			html.Attribute{Key: "data-size", Val: d.HumanSize()},
		)
		if d.ContentType != "" {
			a.Attr = append(a.Attr, html.Attribute{Key: "type", Val: d.ContentType})
		}
		out = append(out, a)
	}
	return out
}

// RenderNodes serializes nodes one after another.
func RenderNodes(nodes ...*html.Node) (string, error) {
	var sb strings.Builder
	for _, n := range nodes {
		if err := html.Render(&sb, n); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}
