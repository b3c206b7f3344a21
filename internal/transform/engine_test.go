package transform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/YASSERRMD/naseejmesh/internal/message"
)

func TestValidate(t *testing.T) {
	e := NewEngine(DefaultLimits)

	if err := e.Validate("local x = 1 + 2"); err != nil {
		t.Errorf("valid script rejected: %v", err)
	}

	err := e.Validate("local x = = 1")
	if err == nil {
		t.Fatal("invalid script accepted")
	}
	te, ok := err.(*Error)
	if !ok || te.Kind != FailCompile {
		t.Errorf("expected compile classification, got %v", err)
	}
}

func TestValidateMatchesExecuteClassification(t *testing.T) {
	e := NewEngine(DefaultLimits)
	bad := "this is not lua ((("

	verr := e.Validate(bad)
	ctx := message.New(message.ProtocolHTTP, "/x", []byte(`{}`))
	xerr := e.Execute(bad, ctx)

	vk := verr.(*Error).Kind
	xk := xerr.(*Error).Kind
	if vk != FailCompile || xk != FailCompile {
		t.Errorf("compile errors must classify identically: validate=%v execute=%v", vk, xk)
	}
}

func TestExecuteTemperature(t *testing.T) {
	e := NewEngine(DefaultLimits)
	ctx := message.New(message.ProtocolHTTP, "/api/weather", []byte(`{"temp": 20}`))

	err := e.Execute("payload.temp_f = payload.temp * 9 / 5 + 32", ctx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(ctx.Payload.Bytes(), &out); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if out["temp_f"] != float64(68) {
		t.Errorf("expected temp_f=68, got %v", out["temp_f"])
	}
	if out["temp"] != float64(20) {
		t.Errorf("original field lost: %v", out["temp"])
	}
}

func TestExecuteMutatesMetadataAndDestination(t *testing.T) {
	e := NewEngine(DefaultLimits)
	ctx := message.New(message.ProtocolMQTT, "sensors/temp", []byte(`{"v":1}`))
	ctx.SetMeta("mqtt.qos", "1")

	script := `
		metadata["seen"] = "yes"
		destination = "sensors/processed"
	`
	if err := e.Execute(script, ctx); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ctx.Meta("seen") != "yes" {
		t.Error("metadata mutation lost")
	}
	if ctx.Meta("mqtt.qos") != "1" {
		t.Error("existing metadata lost")
	}
	if ctx.Destination != "sensors/processed" {
		t.Errorf("destination not updated: %s", ctx.Destination)
	}
}

func TestExecuteRuntimeError(t *testing.T) {
	e := NewEngine(DefaultLimits)
	ctx := message.New(message.ProtocolHTTP, "/x", []byte(`{}`))

	err := e.Execute(`error("boom")`, ctx)
	if err == nil {
		t.Fatal("expected runtime error")
	}
	if te := err.(*Error); te.Kind != FailExecute {
		t.Errorf("expected execute classification, got %d", te.Kind)
	}
}

func TestSimulate(t *testing.T) {
	e := NewEngine(DefaultLimits)

	out, err := e.Simulate(`output = str.upper(input)`, "hello")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if out != "HELLO" {
		t.Errorf("expected HELLO, got %q", out)
	}
}

func TestBuiltins(t *testing.T) {
	e := NewEngine(DefaultLimits)

	tests := []struct {
		name   string
		script string
		input  string
		check  func(string) bool
	}{
		{
			name:   "json round trip",
			script: `local d = json.decode(input); d.extra = true; output = json.encode(d)`,
			input:  `{"a":1}`,
			check: func(s string) bool {
				return strings.Contains(s, `"extra":true`) && strings.Contains(s, `"a":1`)
			},
		},
		{
			name:   "xml wrap",
			script: `output = xmlutil.wrap("temperature", input)`,
			input:  "25",
			check:  func(s string) bool { return s == "<temperature>25</temperature>" },
		},
		{
			name:   "xml escape",
			script: `output = xmlutil.escape(input)`,
			input:  `a<b&c`,
			check:  func(s string) bool { return s == "a&lt;b&amp;c" },
		},
		{
			name:   "uuid format",
			script: `output = uuid()`,
			check:  func(s string) bool { return len(s) == 36 },
		},
		{
			name:   "timestamp numeric",
			script: `output = string.format("%d", timestamp_ms())`,
			check:  func(s string) bool { return len(s) >= 13 },
		},
		{
			name:   "unit conversion",
			script: `output = string.format("%d", convert.c_to_f(20))`,
			check:  func(s string) bool { return s == "68" },
		},
		{
			name:   "trim",
			script: `output = str.trim(input)`,
			input:  "  x  ",
			check:  func(s string) bool { return s == "x" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Simulate(tt.script, tt.input)
			if err != nil {
				t.Fatalf("simulate: %v", err)
			}
			if !tt.check(out) {
				t.Errorf("unexpected output: %q", out)
			}
		})
	}
}

func TestOperationCeiling(t *testing.T) {
	e := NewEngine(Limits{MaxOps: 100})

	// Each builtin call debits the budget; far more calls than budget.
	script := `
		for i = 1, 1000 do
			local _ = str.upper("x")
		end
		output = "done"
	`
	_, err := e.Simulate(script, "")
	if err == nil {
		t.Fatal("expected operation limit error")
	}
}

func TestDepthCeiling(t *testing.T) {
	e := NewEngine(DefaultLimits)
	ctx := message.New(message.ProtocolHTTP, "/x", []byte(`{}`))

	// Unbounded recursion overruns the call-stack ceiling.
	err := e.Execute(`local function f() return f() end f()`, ctx)
	if err == nil {
		t.Fatal("expected depth limit error")
	}
}

func TestOutputSizeCeiling(t *testing.T) {
	e := NewEngine(Limits{MaxString: 64})

	_, err := e.Simulate(`output = string.rep("x", 1000)`, "")
	if err == nil {
		t.Fatal("expected output size error")
	}
}

func TestCompileCache(t *testing.T) {
	e := NewEngine(DefaultLimits)
	script := `output = input`

	for i := 0; i < 5; i++ {
		if _, err := e.Simulate(script, "a"); err != nil {
			t.Fatalf("simulate: %v", err)
		}
	}
	if e.CacheSize() != 1 {
		t.Errorf("expected one cached artifact, got %d", e.CacheSize())
	}
}

func TestPayloadRoundTripPreservesStructure(t *testing.T) {
	e := NewEngine(DefaultLimits)
	in := `{"a":{"b":[1,2,3],"c":"x"},"d":true,"e":null}`
	ctx := message.New(message.ProtocolHTTP, "/x", []byte(in))

	// No-op script: structure must survive modulo key order.
	if err := e.Execute(`local _ = 1`, ctx); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var want, got interface{}
	json.Unmarshal([]byte(in), &want)
	if err := json.Unmarshal(ctx.Payload.Bytes(), &got); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	// null values disappear in the Lua scope; everything else survives.
	wm := want.(map[string]interface{})
	gm := got.(map[string]interface{})
	for _, k := range []string{"a", "d"} {
		if !jsonEqual(wm[k], gm[k]) {
			t.Errorf("field %s changed: %v != %v", k, wm[k], gm[k])
		}
	}
}

func jsonEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}
