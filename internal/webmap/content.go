package webmap

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const popupClass = "popup"

var (
	placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)
	descPolicy    = newDescriptionPolicy()
)

func newDescriptionPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("target").Matching(regexp.MustCompile(`^_(blank|self)$`)).OnElements("a")
	p.AllowAttrs("class").Globally()
	p.RequireNoFollowOnLinks(false)
	p.AllowRelativeURLs(true)
	return p
}

// renderDefaultContent renders a popup the way the map's stock template does:
// a title, then the description or a table of the visible fields.
func renderDefaultContent(info PopupInfo, attrs map[string]any) (string, error) {
	div := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr:     []html.Attribute{{Key: "class", Val: popupClass}},
	}

	if title := substitute(info.Title, attrs, false); title != "" {
		h := element(atom.H4, "popup-title")
		h.AppendChild(text(title))
		div.AppendChild(h)
	}

	if strings.TrimSpace(info.Description) != "" {
		desc := element(atom.Div, "popup-description")
		safe := descPolicy.Sanitize(substitute(info.Description, attrs, true))
		nodes, err := html.ParseFragment(strings.NewReader(safe), desc)
		if err != nil {
			return "", err
		}
		for _, n := range nodes {
			desc.AppendChild(n)
		}
		div.AppendChild(desc)
	} else if table := fieldTable(info.FieldInfos, attrs); table != nil {
		div.AppendChild(table)
	}

	var sb strings.Builder
	if err := html.Render(&sb, div); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func fieldTable(fields []FieldInfo, attrs map[string]any) *html.Node {
	type row struct{ label, value string }
	var rows []row

	if len(fields) > 0 {
		for _, f := range fields {
			if !f.Visible {
				continue
			}
			label := f.Label
			if label == "" {
				label = f.FieldName
			}
			rows = append(rows, row{label: label, value: formatValue(attrs[f.FieldName])})
		}
	} else {
		keys := make([]string, 0, len(attrs))
		for k := range attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, row{label: k, value: formatValue(attrs[k])})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	table := element(atom.Table, "popup-fields")
	for _, r := range rows {
		tr := element(atom.Tr, "")
		th := element(atom.Th, "")
		th.AppendChild(text(r.label))
		td := element(atom.Td, "")
		td.AppendChild(text(r.value))
		tr.AppendChild(th)
		tr.AppendChild(td)
		table.AppendChild(tr)
	}
	return table
}

// substitute replaces {FIELD} placeholders with attribute values. Unknown
// fields are left untouched.
func substitute(tmpl string, attrs map[string]any, escape bool) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := attrs[name]
		if !ok {
			return m
		}
		s := formatValue(v)
		if escape {
			return html.EscapeString(s)
		}
		return s
	})
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func element(a atom.Atom, class string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
