package soap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/YASSERRMD/naseejmesh/internal/message"
)

// SOAP envelope namespaces.
const (
	NamespaceSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
)

// Version distinguishes SOAP 1.1 from 1.2.
type Version string

const (
	Version11 Version = "1.1"
	Version12 Version = "1.2"
)

// ContentType returns the wire content type for the version.
func (v Version) ContentType() string {
	if v == Version12 {
		return "application/soap+xml; charset=utf-8"
	}
	return "text/xml; charset=utf-8"
}

// Envelope is a parsed SOAP message.
type Envelope struct {
	Version Version
	Header  interface{}
	Body    map[string]interface{}
	Action  string
	IsFault bool
}

// Parse decodes a SOAP envelope from XML. The Header is optional and
// the Body required; a Fault child at the top of the Body marks a
// fault message.
func Parse(data []byte) (*Envelope, error) {
	version := Version11
	if bytes.Contains(data, []byte(NamespaceSOAP12)) {
		version = Version12
	}

	doc, err := NewTranscoder().Decode(data)
	if err != nil {
		return nil, err
	}

	envVal, ok := doc["Envelope"]
	if !ok {
		return nil, fmt.Errorf("soap: missing Envelope element")
	}
	env, ok := envVal.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("soap: malformed Envelope element")
	}

	bodyVal, ok := env["Body"]
	if !ok {
		return nil, fmt.Errorf("soap: missing Body element")
	}
	body, ok := bodyVal.(map[string]interface{})
	if !ok {
		// An empty Body decodes as nil; normalize.
		if bodyVal == nil {
			body = map[string]interface{}{}
		} else {
			return nil, fmt.Errorf("soap: malformed Body element")
		}
	}

	e := &Envelope{
		Version: version,
		Header:  env["Header"],
		Body:    body,
	}
	_, e.IsFault = body["Fault"]

	// WS-Addressing Action from the header, if present.
	if h, ok := e.Header.(map[string]interface{}); ok {
		switch a := h["Action"].(type) {
		case string:
			e.Action = a
		case map[string]interface{}:
			if s, ok := a["#text"].(string); ok {
				e.Action = s
			}
		}
	}

	return e, nil
}

// Operation returns the operation name: a non-metadata child of the
// Body. The Body map keeps no document order, so when the Body holds
// more than one such child, which one is returned is not defined.
func (e *Envelope) Operation() string {
	for k := range e.Body {
		if strings.HasPrefix(k, "@") || k == "#text" || k == "Fault" {
			continue
		}
		return k
	}
	return ""
}

// OperationPayload returns the body content for an operation.
func (e *Envelope) OperationPayload(operation string) (interface{}, bool) {
	v, ok := e.Body[operation]
	return v, ok
}

// ToContext converts the envelope into a universal context. The body
// is carried as JSON; the destination is the action or, failing that,
// the operation name.
func (e *Envelope) ToContext() (*message.Context, error) {
	destination := e.Action
	if destination == "" {
		destination = e.Operation()
	}
	if destination == "" {
		destination = "/soap"
	}

	payload, err := json.Marshal(e.Body)
	if err != nil {
		return nil, fmt.Errorf("soap: encode body: %w", err)
	}

	ctx := message.New(message.ProtocolSOAP, destination, payload)
	ctx.ContentType = "application/json"
	ctx.SetMeta("soap.version", string(e.Version))
	ctx.SetMeta("soap.is_fault", fmt.Sprintf("%t", e.IsFault))
	return ctx, nil
}

// BuildResponse renders a response envelope with body (JSON-equivalent)
// and optional headers back into XML.
func BuildResponse(version Version, body interface{}, header interface{}) ([]byte, error) {
	env := map[string]interface{}{
		"@xmlns:soap": namespaceFor(version),
		"soap:Body":   body,
	}
	if header != nil {
		env["soap:Header"] = header
	}
	t := NewTranscoder()
	return t.Encode("soap:Envelope", env)
}

// BuildFault renders a fault envelope in the shape the version expects.
func BuildFault(version Version, code, msg, detail string) ([]byte, error) {
	var fault map[string]interface{}
	if version == Version12 {
		fault = map[string]interface{}{
			"soap:Code":   map[string]interface{}{"soap:Value": code},
			"soap:Reason": map[string]interface{}{"soap:Text": msg},
		}
		if detail != "" {
			fault["soap:Detail"] = detail
		}
	} else {
		fault = map[string]interface{}{
			"faultcode":   code,
			"faultstring": msg,
		}
		if detail != "" {
			fault["detail"] = detail
		}
	}
	body := map[string]interface{}{"soap:Fault": fault}
	return BuildResponse(version, body, nil)
}

func namespaceFor(v Version) string {
	if v == Version12 {
		return NamespaceSOAP12
	}
	return NamespaceSOAP11
}

// IsSOAPContentType reports whether ct identifies a SOAP request.
func IsSOAPContentType(ct string) bool {
	return strings.HasPrefix(ct, "text/xml") ||
		strings.HasPrefix(ct, "application/soap+xml")
}
