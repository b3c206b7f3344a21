package tracing

import "testing"

func TestParseTraceparent(t *testing.T) {
	traceID, spanID, ok := ParseTraceparent("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	if !ok {
		t.Fatal("valid traceparent rejected")
	}
	if traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("wrong trace id: %s", traceID)
	}
	if spanID != "00f067aa0ba902b7" {
		t.Errorf("wrong span id: %s", spanID)
	}
}

func TestParseTraceparentInvalid(t *testing.T) {
	bad := []string{
		"",
		"00-short-00f067aa0ba902b7-01",
		"01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7",
		"00-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz-00f067aa0ba902b7-01",
	}
	for _, v := range bad {
		if _, _, ok := ParseTraceparent(v); ok {
			t.Errorf("invalid traceparent accepted: %q", v)
		}
	}
}

func TestFormatTraceparent(t *testing.T) {
	got := FormatTraceparent("4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	// Missing span falls back to the zero span.
	got = FormatTraceparent("4bf92f3577b34da6a3ce929d0e0e4736", "")
	if got != "00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01" {
		t.Errorf("zero-span fallback wrong: %s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	in := FormatTraceparent("0af7651916cd43dd8448eb211c80319c", "b7ad6b7169203331")
	traceID, spanID, ok := ParseTraceparent(in)
	if !ok || traceID != "0af7651916cd43dd8448eb211c80319c" || spanID != "b7ad6b7169203331" {
		t.Errorf("round trip failed: %s %s %v", traceID, spanID, ok)
	}
}
