package protocol

import "testing"

func TestDecode_RequiresType(t *testing.T) {
	if _, err := Decode([]byte(`{"content":"hi"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestDecode_ToleratesUnknownTypes(t *testing.T) {
	m, err := Decode([]byte(`{"type":"tool_start","tool_name":"search"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != "tool_start" {
		t.Fatalf("type: %q", m.Type)
	}
}

func TestEncode_RequiresType(t *testing.T) {
	if _, err := Encode(Message{Content: "hi"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestRoundTrip_SentenceEnd(t *testing.T) {
	data, err := Encode(Message{Type: TypeSentenceEnd, Sentence: "It's 3:30.", SentenceIndex: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Sentence != "It's 3:30." || m.SentenceIndex != 2 {
		t.Fatalf("round trip: %+v", m)
	}
}

func TestConstructors(t *testing.T) {
	if m := Text("hello", "s1"); m.Type != TypeText || m.Content != "hello" || m.SessionID != "s1" {
		t.Fatalf("text: %+v", m)
	}
	if m := Interrupt(); m.Type != TypeInterrupt {
		t.Fatalf("interrupt: %+v", m)
	}
	if m := Clear("s1"); m.Type != TypeClear || m.SessionID != "s1" {
		t.Fatalf("clear: %+v", m)
	}
	if m := Ping(); m.Type != TypePing {
		t.Fatalf("ping: %+v", m)
	}
}
