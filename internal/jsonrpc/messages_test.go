package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestAnyMessageClassification(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"request", `{"jsonrpc":"2.0","method":"tools/call","id":1}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"response", `{"jsonrpc":"2.0","result":{},"id":"a"}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.raw), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Type(); got != tc.want {
				t.Fatalf("Type() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAnyMessageRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"wrong version", `{"jsonrpc":"1.0","method":"ping","id":1}`},
		{"request with result", `{"jsonrpc":"2.0","method":"ping","result":{},"id":1}`},
		{"response with both", `{"jsonrpc":"2.0","result":{},"error":{"code":-32600,"message":"x"},"id":1}`},
		{"response with neither", `{"jsonrpc":"2.0","id":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.raw), &m); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`7`, "7"},
		{`"abc"`, "abc"},
		{`2.5`, "2.5"},
	}
	for _, tc := range cases {
		var id RequestID
		if err := json.Unmarshal([]byte(tc.raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if got := id.String(); got != tc.want {
			t.Fatalf("String() = %q, want %q", got, tc.want)
		}
		b, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != tc.raw {
			t.Fatalf("round trip = %s, want %s", b, tc.raw)
		}
	}
}

func TestRequestIDNil(t *testing.T) {
	var id *RequestID
	if !id.IsNil() {
		t.Fatal("nil pointer should be nil ID")
	}
	if id.String() != "" {
		t.Fatal("nil ID should stringify to empty")
	}
}

func TestNewErrorResponse(t *testing.T) {
	res := NewErrorResponse(NewRequestID(3), ErrorCodeMethodNotFound, "no such method", nil)
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m AnyMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Error == nil || m.Error.Code != ErrorCodeMethodNotFound {
		t.Fatalf("unexpected error field: %+v", m.Error)
	}
}
