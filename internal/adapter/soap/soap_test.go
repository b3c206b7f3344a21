package soap

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/YASSERRMD/naseejmesh/internal/message"
)

const getUserEnvelope = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><GetUser><userId>123</userId></GetUser></soap:Body></soap:Envelope>`

func TestParseEnvelope(t *testing.T) {
	env, err := Parse([]byte(getUserEnvelope))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if env.IsFault {
		t.Error("plain request must not be a fault")
	}
	if env.Version != Version11 {
		t.Errorf("expected SOAP 1.1, got %s", env.Version)
	}
	if op := env.Operation(); op != "GetUser" {
		t.Errorf("expected GetUser operation, got %q", op)
	}

	payload, ok := env.OperationPayload("GetUser")
	if !ok {
		t.Fatal("GetUser payload missing")
	}
	m, ok := payload.(map[string]interface{})
	if !ok || m["userId"] != "123" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestEnvelopeToContext(t *testing.T) {
	env, err := Parse([]byte(getUserEnvelope))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx, err := env.ToContext()
	if err != nil {
		t.Fatalf("to context: %v", err)
	}
	defer ctx.Release()

	if ctx.Protocol != message.ProtocolSOAP {
		t.Errorf("expected soap protocol, got %s", ctx.Protocol)
	}
	if ctx.Destination != "GetUser" {
		t.Errorf("destination should identify GetUser, got %q", ctx.Destination)
	}
	if ctx.Meta("soap.is_fault") != "false" {
		t.Error("is_fault metadata should be false")
	}

	var body map[string]interface{}
	if err := json.Unmarshal(ctx.Payload.Bytes(), &body); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	user, ok := body["GetUser"].(map[string]interface{})
	if !ok || user["userId"] != "123" {
		t.Errorf(`expected {"GetUser":{"userId":"123"}}, got %s`, ctx.Payload.Bytes())
	}
}

func TestParseSOAP12(t *testing.T) {
	xml := `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body><Ping/></env:Body></env:Envelope>`
	env, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Version != Version12 {
		t.Errorf("expected SOAP 1.2, got %s", env.Version)
	}
}

func TestParseWithHeaderAction(t *testing.T) {
	xml := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
		<soap:Header><Action>urn:GetQuote</Action></soap:Header>
		<soap:Body><GetQuote><symbol>ACME</symbol></GetQuote></soap:Body>
	</soap:Envelope>`

	env, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Action != "urn:GetQuote" {
		t.Errorf("expected action urn:GetQuote, got %q", env.Action)
	}

	ctx, _ := env.ToContext()
	defer ctx.Release()
	if ctx.Destination != "urn:GetQuote" {
		t.Errorf("action should win as destination, got %q", ctx.Destination)
	}
}

func TestFaultDetection(t *testing.T) {
	xml := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
		<soap:Body><soap:Fault><faultcode>soap:Client</faultcode><faultstring>bad</faultstring></soap:Fault></soap:Body>
	</soap:Envelope>`

	env, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !env.IsFault {
		t.Error("fault envelope not detected")
	}
}

func TestMissingBody(t *testing.T) {
	xml := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"></soap:Envelope>`
	if _, err := Parse([]byte(xml)); err == nil {
		t.Fatal("missing Body must be an error")
	}
}

func TestBuildFault(t *testing.T) {
	out, err := BuildFault(Version11, "soap:Client", "Invalid request", "missing field")
	if err != nil {
		t.Fatalf("build fault: %v", err)
	}
	s := string(out)
	for _, want := range []string{"<soap:Envelope", "<soap:Fault>", "<faultcode>soap:Client</faultcode>", "<faultstring>Invalid request</faultstring>"} {
		if !strings.Contains(s, want) {
			t.Errorf("fault missing %q:\n%s", want, s)
		}
	}

	out12, err := BuildFault(Version12, "env:Sender", "bad", "")
	if err != nil {
		t.Fatalf("build 1.2 fault: %v", err)
	}
	if !strings.Contains(string(out12), "<soap:Code>") {
		t.Errorf("1.2 fault should use Code element:\n%s", out12)
	}
}

func TestXMLJSONRoundTrip(t *testing.T) {
	// Element tree, attributes and text content survive a round trip
	// modulo whitespace.
	xml := `<order id="7"><item qty="2">widget</item><item qty="1">gadget</item><note>rush</note></order>`

	tr := NewTranscoder()
	decoded, err := tr.Decode([]byte(xml))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	order := decoded["order"].(map[string]interface{})
	if order["@id"] != "7" {
		t.Errorf("attribute lost: %+v", order)
	}
	items := order["item"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0].(map[string]interface{})
	if first["@qty"] != "2" || first["#text"] != "widget" {
		t.Errorf("unexpected first item: %+v", first)
	}
	if order["note"] != "rush" {
		t.Errorf("text-only element should decode to string: %+v", order["note"])
	}

	encoded, err := tr.Encode("order", order)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	reDecoded, err := tr.Decode(encoded)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}

	a, _ := json.Marshal(decoded)
	b, _ := json.Marshal(reDecoded)
	if string(a) != string(b) {
		t.Errorf("round trip diverged:\n%s\n%s", a, b)
	}
}

func TestEscaping(t *testing.T) {
	tr := NewTranscoder()
	out, err := tr.Encode("v", "a<b&c")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(out), "a&lt;b&amp;c") {
		t.Errorf("text not escaped: %s", out)
	}

	decoded, err := tr.Decode(out)
	if err != nil {
		t.Fatalf("decode escaped: %v", err)
	}
	if decoded["v"] != "a<b&c" {
		t.Errorf("unescape failed: %+v", decoded)
	}
}

func TestIsSOAPContentType(t *testing.T) {
	if !IsSOAPContentType("text/xml; charset=utf-8") {
		t.Error("text/xml is SOAP 1.1")
	}
	if !IsSOAPContentType("application/soap+xml") {
		t.Error("application/soap+xml is SOAP 1.2")
	}
	if IsSOAPContentType("application/json") {
		t.Error("json is not SOAP")
	}
}
