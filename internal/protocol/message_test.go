package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := []Message{
		Handshake(ContentRequest, "Alice"),
		Handshake(ContentAccepted, FinalAcceptSyn),
		Handshake(ContentRejected, "server already in use"),
		Sequenced(TypeMove, "3_4", 0),
		Sequenced(TypeSkip, "", 7),
		Sequenced(TypeRegret, ContentAccepted, -3),
		Unsequenced(TypeNew, ContentRejected),
		Unsequenced(TypeLeave, ""),
		{Type: String("MOVE"), Content: String("名前 <&>"), Syn: Int(12)},
		{Type: String("move")},
		{Content: Null(), Syn: Value{kind: KindOther, raw: []byte(`[1,2]`)}},
		{Type: Value{kind: KindNumber, raw: []byte(`1.5`)}, Syn: Value{kind: KindOther, raw: []byte(`true`)}},
	}

	for _, m := range msgs {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %s (%s): %v", m, data, err)
		}
		if !got.Equal(m) {
			t.Fatalf("round trip changed %s into %s (wire %s)", m, got, data)
		}
	}
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	data, err := Encode(Message{Type: String("leave"), Syn: Null()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(data), FieldContent) {
		t.Fatalf("absent content was written: %s", data)
	}
	if !strings.Contains(string(data), `"syn":null`) {
		t.Fatalf("null syn missing: %s", data)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"invalid utf-8", []byte{'{', '"', 0xff, '"', ':', '1', '}'}},
		{"not json", []byte(`type=move`)},
		{"truncated", []byte(`{"type":"move"`)},
		{"array", []byte(`["move","3_4",0]`)},
		{"string", []byte(`"move"`)},
		{"null", []byte(`null`)},
		{"empty", []byte{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.payload); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeKinds(t *testing.T) {
	m, err := Decode([]byte(`{"type":"Move","content":null,"syn":4.0,"extra":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !m.IsType(TypeMove) {
		t.Fatalf("case-insensitive type match failed: %s", m.Type)
	}
	if m.Content.Kind() != KindNull || m.Content.Present() {
		t.Fatalf("content kind = %s", m.Content.Kind())
	}
	if n, ok := m.Syn.Int(); !ok || n != 4 {
		t.Fatalf("syn 4.0 should read as integer 4, got %d %v", n, ok)
	}

	m, _ = Decode([]byte(`{"syn":2.5}`))
	if m.Type.Kind() != KindAbsent {
		t.Fatalf("missing type should be absent, got %s", m.Type.Kind())
	}
	if _, ok := m.Syn.Int(); ok {
		t.Fatal("fractional syn accepted as integer")
	}

	m, _ = Decode([]byte(`{"syn":"12"}`))
	if _, ok := m.Syn.Int(); ok {
		t.Fatal("string syn accepted as integer")
	}
}

func TestValueIsFoldsCase(t *testing.T) {
	if !String("ACCEPTED").Is(ContentAccepted) {
		t.Fatal("ACCEPTED should match accepted")
	}
	if !String("Straße").Is("STRASSE") {
		t.Fatal("full case folding expected")
	}
	if Int(1).Is("1") {
		t.Fatal("a number is never a string match")
	}
}
