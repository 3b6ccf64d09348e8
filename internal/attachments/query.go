package attachments

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	paramURL   = "url"
	paramInfos = "infos"
)

// QueryString serializes the collection as url=...&infos=... so a gallery page
// can rebuild it. Parameter order is fixed.
func (c *Collection) QueryString() string {
	return paramURL + "=" + EncodeComponent(c.baseURL) +
		"&" + paramInfos + "=" + EncodeComponent(string(c.infosJSON()))
}

// GalleryLinkURL is the gallery page URL followed by the serialized query
// string. An empty gallery page URL yields a link that starts with "?".
func (c *Collection) GalleryLinkURL() string {
	return c.galleryURL + "?" + c.QueryString()
}

func (c *Collection) infosJSON() []byte {
	items := c.items
	if items == nil {
		items = []Descriptor{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Descriptors hold only strings and integers.
	_ = enc.Encode(items)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// ParseQueryString rebuilds a collection from a query string produced by
// QueryString. A leading "?" is ignored. galleryPageURL is the URL of the page
// doing the parsing; it is not part of the query string.
func ParseQueryString(qs, galleryPageURL string) (*Collection, error) {
	qs = strings.TrimPrefix(qs, "?")

	params := make(map[string]string)
	var infos []Descriptor
	var haveInfos bool

	for i, segment := range strings.Split(qs, "&") {
		name, rawValue, ok := strings.Cut(segment, "=")
		if !ok {
			return nil, &ParseError{Segment: segment, Index: i, Reason: "missing '='"}
		}
		value, err := url.PathUnescape(rawValue)
		if err != nil {
			return nil, &ParseError{Segment: segment, Index: i, Reason: "invalid percent-encoding", Err: err}
		}
		if !utf8.ValidString(value) {
			return nil, &ParseError{Segment: segment, Index: i, Reason: "percent-encoding is not valid UTF-8"}
		}

		if name == paramInfos {
			var decoded []Descriptor
			if err := json.Unmarshal([]byte(value), &decoded); err != nil {
				return nil, &ParseError{Segment: segment, Index: i, Reason: "infos is not a JSON descriptor array", Err: err}
			}
			infos = decoded
			haveInfos = true
			continue
		}
		params[name] = value
	}

	baseURL, ok := params[paramURL]
	if !ok {
		return nil, &ParseError{Reason: "missing url parameter"}
	}
	if !haveInfos {
		return nil, &ParseError{Reason: "missing infos parameter"}
	}

	return NewFromDescriptors(baseURL, infos, galleryPageURL), nil
}

// EncodeComponent percent-encodes s for use as a single query component. Only
// A-Z a-z 0-9 and - _ . ! ~ * ' ( ) are left as is.
func EncodeComponent(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isComponentSafe(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0F])
	}
	return b.String()
}

func isComponentSafe(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	switch ch {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
