// Package soap converts SOAP envelopes to and from the gateway's JSON
// payload representation. XML parsing is event-based over the token
// stream; no DOM is built.
package soap

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Transcoder converts XML to a JSON-equivalent value and back.
type Transcoder struct {
	// StripNamespaces drops namespace prefixes from element names.
	StripNamespaces bool
	// AttrPrefix marks attribute keys in the JSON form.
	AttrPrefix string
	// TextKey holds character data when an element also has attributes
	// or children.
	TextKey string
}

// NewTranscoder returns a transcoder with the default conventions:
// namespaces stripped, attributes under "@", text under "#text".
func NewTranscoder() *Transcoder {
	return &Transcoder{
		StripNamespaces: true,
		AttrPrefix:      "@",
		TextKey:         "#text",
	}
}

// Decode parses XML into a JSON-equivalent value of the shape
// {rootName: content}. An element with only text becomes a string;
// repeated sibling elements become an array.
func (t *Transcoder) Decode(data []byte) (map[string]interface{}, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("soap: no root element")
		}
		if err != nil {
			return nil, fmt.Errorf("soap: parse: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		value, err := t.decodeElement(dec, start)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{t.elementName(start.Name): value}, nil
	}
}

// decodeElement consumes tokens until the element's end tag and
// returns its JSON-equivalent value.
func (t *Transcoder) decodeElement(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	obj := make(map[string]interface{})
	for _, attr := range start.Attr {
		if t.StripNamespaces && (attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns") {
			continue
		}
		obj[t.AttrPrefix+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	children := make(map[string][]interface{})
	var childOrder []string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("soap: unexpected end of document inside <%s>", start.Name.Local)
		}
		if err != nil {
			return nil, fmt.Errorf("soap: parse: %w", err)
		}

		switch tk := tok.(type) {
		case xml.StartElement:
			name := t.elementName(tk.Name)
			value, err := t.decodeElement(dec, tk)
			if err != nil {
				return nil, err
			}
			if _, seen := children[name]; !seen {
				childOrder = append(childOrder, name)
			}
			children[name] = append(children[name], value)

		case xml.CharData:
			trimmed := strings.TrimSpace(string(tk))
			if trimmed != "" {
				text.WriteString(trimmed)
			}

		case xml.EndElement:
			for _, name := range childOrder {
				vals := children[name]
				if len(vals) == 1 {
					obj[name] = vals[0]
				} else {
					obj[name] = vals
				}
			}
			if text.Len() > 0 {
				if len(obj) == 0 {
					return text.String(), nil
				}
				obj[t.TextKey] = text.String()
			}
			if len(obj) == 0 {
				return nil, nil
			}
			return obj, nil
		}
	}
}

// elementName strips the namespace prefix when configured.
func (t *Transcoder) elementName(name xml.Name) string {
	if t.StripNamespaces {
		return name.Local
	}
	if name.Space != "" {
		return name.Space + ":" + name.Local
	}
	return name.Local
}

// Encode renders a JSON-equivalent value as XML under the given root
// element name. Keys with the attribute prefix become attributes, the
// text key becomes character data, arrays repeat the element.
func (t *Transcoder) Encode(root string, value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	if err := t.writeValue(&buf, root, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Transcoder) writeValue(buf *bytes.Buffer, name string, value interface{}) error {
	switch v := value.(type) {
	case nil:
		fmt.Fprintf(buf, "<%s/>", name)
	case string:
		fmt.Fprintf(buf, "<%s>%s</%s>", name, escapeText(v), name)
	case bool:
		fmt.Fprintf(buf, "<%s>%t</%s>", name, v, name)
	case float64:
		fmt.Fprintf(buf, "<%s>%s</%s>", name, formatNumber(v), name)
	case json.Number:
		fmt.Fprintf(buf, "<%s>%s</%s>", name, v.String(), name)
	case []interface{}:
		for _, item := range v {
			if err := t.writeValue(buf, name, item); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		fmt.Fprintf(buf, "<%s", name)
		keys := sortedKeys(v)
		for _, k := range keys {
			if strings.HasPrefix(k, t.AttrPrefix) {
				if s, ok := v[k].(string); ok {
					fmt.Fprintf(buf, ` %s="%s"`, strings.TrimPrefix(k, t.AttrPrefix), escapeAttr(s))
				}
			}
		}
		buf.WriteByte('>')
		for _, k := range keys {
			if strings.HasPrefix(k, t.AttrPrefix) || k == t.TextKey {
				continue
			}
			if err := t.writeValue(buf, k, v[k]); err != nil {
				return err
			}
		}
		if text, ok := v[t.TextKey].(string); ok {
			buf.WriteString(escapeText(text))
		}
		fmt.Fprintf(buf, "</%s>", name)
	default:
		return fmt.Errorf("soap: cannot encode %T as XML", value)
	}
	return nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}
