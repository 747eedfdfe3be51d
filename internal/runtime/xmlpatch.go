package runtime

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// AttrWrite sets one attribute on every element matching Path (a
// slash-separated element path from the document root, e.g.
// "Server/Service/Connector") whose existing attributes also satisfy Match.
// This is how a downloaded distribution's server.xml is re-pointed at the
// resolved ports without textual substitution.
type AttrWrite struct {
	Path  string
	Match map[string]string
	Attr  string
	Value string
}

// PatchXML applies writes to doc and returns the updated document. The
// token stream is rewritten in place so comments, ordering, and the
// prolog survive; only matched attributes change.
func PatchXML(doc []byte, writes []AttrWrite) ([]byte, error) {
	decoder := xml.NewDecoder(bytes.NewReader(doc))

	var out bytes.Buffer
	encoder := xml.NewEncoder(&out)

	var stack []string
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("runtime: parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			path := strings.Join(stack, "/")
			for _, w := range writes {
				if path != w.Path || !attrsMatch(t.Attr, w.Match) {
					continue
				}
				t.Attr = setAttr(t.Attr, w.Attr, w.Value)
			}
			if err := encoder.EncodeToken(t); err != nil {
				return nil, fmt.Errorf("runtime: encode xml: %w", err)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if err := encoder.EncodeToken(t); err != nil {
				return nil, fmt.Errorf("runtime: encode xml: %w", err)
			}
		default:
			if err := encoder.EncodeToken(xml.CopyToken(tok)); err != nil {
				return nil, fmt.Errorf("runtime: encode xml: %w", err)
			}
		}
	}
	if err := encoder.Flush(); err != nil {
		return nil, fmt.Errorf("runtime: flush xml: %w", err)
	}
	return out.Bytes(), nil
}

func attrsMatch(attrs []xml.Attr, match map[string]string) bool {
	for k, want := range match {
		found := false
		for _, a := range attrs {
			if a.Name.Local == k && a.Value == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func setAttr(attrs []xml.Attr, name, value string) []xml.Attr {
	for i, a := range attrs {
		if a.Name.Local == name {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// ServerXMLWrites is the standard patch set for an instance: shutdown port,
// HTTP connector port, and jvmRoute. The HTTPS and AJP connectors are not
// patched.
func ServerXMLWrites(httpPort, shutdownPort int, jvmRoute string) []AttrWrite {
	return []AttrWrite{
		{
			Path:  "Server",
			Attr:  "port",
			Value: fmt.Sprintf("%d", shutdownPort),
		},
		{
			Path:  "Server/Service/Connector",
			Match: map[string]string{"protocol": "HTTP/1.1"},
			Attr:  "port",
			Value: fmt.Sprintf("%d", httpPort),
		},
		{
			Path:  "Server/Service/Engine",
			Attr:  "jvmRoute",
			Value: jvmRoute,
		},
	}
}
