package ctxn

import "testing"

func TestNewUUIDIsNotNil(t *testing.T) {
	id := NewUUID()
	if id.IsNil() {
		t.Fatalf("expected a freshly generated UUID to be non-nil")
	}
}

func TestParseUUIDRoundTrip(t *testing.T) {
	id := NewUUID()
	parsed, err := ParseUUID(id.String())
	if err != nil {
		t.Fatalf("ParseUUID: %v", err)
	}
	if parsed != id {
		t.Fatalf("parsed UUID %v != original %v", parsed, id)
	}
}

func TestParseUUIDRejectsGarbage(t *testing.T) {
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Fatalf("expected an error parsing a malformed UUID")
	}
}

func TestUUIDJSONRoundTrip(t *testing.T) {
	id := NewUUID()
	b, err := id.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var out UUID
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if out != id {
		t.Fatalf("round-tripped UUID %v != original %v", out, id)
	}
}

func TestUUIDJSONEmptyStringIsNil(t *testing.T) {
	var out UUID
	if err := out.UnmarshalJSON([]byte(`""`)); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !out.IsNil() {
		t.Fatalf("expected empty string to unmarshal to the nil UUID")
	}
}
