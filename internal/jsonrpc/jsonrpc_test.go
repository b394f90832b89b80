package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestAnyMessageClassification(t *testing.T) {
	cases := []struct {
		name string
		in   string
		typ  string
	}{
		{"request with number id", `{"jsonrpc":"2.0","method":"ping","id":1}`, "request"},
		{"request with string id", `{"jsonrpc":"2.0","method":"ping","id":"a"}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"result response", `{"jsonrpc":"2.0","result":{},"id":1}`, "response"},
		{"error response", `{"jsonrpc":"2.0","error":{"code":-32600,"message":"bad"},"id":1}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.in), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Type(); got != tc.typ {
				t.Fatalf("type: want %q got %q", tc.typ, got)
			}
		})
	}
}

func TestAnyMessageRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"missing version", `{"method":"ping","id":1}`},
		{"wrong version", `{"jsonrpc":"1.0","method":"ping","id":1}`},
		{"request with result", `{"jsonrpc":"2.0","method":"ping","result":{},"id":1}`},
		{"response with both", `{"jsonrpc":"2.0","result":{},"error":{"code":1,"message":"x"},"id":1}`},
		{"response with neither", `{"jsonrpc":"2.0","id":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.in), &m); err == nil {
				t.Fatalf("expected error for %s", tc.in)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	var id RequestID
	if err := json.Unmarshal([]byte(`42`), &id); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	b, err := json.Marshal(&id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "42" {
		t.Fatalf("roundtrip: %s", b)
	}

	var sid RequestID
	if err := json.Unmarshal([]byte(`"abc"`), &sid); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if sid.String() != "abc" {
		t.Fatalf("string id: %q", sid.String())
	}

	var bad RequestID
	if err := json.Unmarshal([]byte(`true`), &bad); err == nil {
		t.Fatal("expected error for boolean id")
	}
}

func TestNilRequestIDMarshalsAsNull(t *testing.T) {
	id := &RequestID{}
	b, err := json.Marshal(id)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "null" {
		t.Fatalf("nil id: %s", b)
	}
	if !id.IsNil() {
		t.Fatal("zero id should be nil")
	}
}

func TestNotificationOmitsID(t *testing.T) {
	req, err := NewRequest(nil, "notifications/progress", map[string]any{"progress": 1})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["id"]; ok {
		t.Fatalf("notification carries id: %s", b)
	}
}
