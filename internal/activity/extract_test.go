package activity

import (
	"errors"
	"testing"
)

func ptrValue(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		wantType   string
		wantActor  string
		wantObject string
		wantTarget string
		wantCorr   string
	}{
		{
			name:       "actor as object",
			doc:        `{"type":"Announce","actor":{"id":"https://a"},"object":"https://o"}`,
			wantType:   "Announce",
			wantActor:  "https://a",
			wantObject: "https://o",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "actor as string",
			doc:        `{"actor":"https://a"}`,
			wantType:   "<nil>",
			wantActor:  "https://a",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "attributedTo fallback",
			doc:        `{"attributedTo":"https://b"}`,
			wantType:   "<nil>",
			wantActor:  "https://b",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "attributedTo ignored when not a string",
			doc:        `{"attributedTo":{"id":"https://b"}}`,
			wantType:   "<nil>",
			wantActor:  "<nil>",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "actor wins over attributedTo",
			doc:        `{"actor":"https://a","attributedTo":"https://b"}`,
			wantType:   "<nil>",
			wantActor:  "https://a",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "type array takes first",
			doc:        `{"type":["Offer","Activity"]}`,
			wantType:   "Offer",
			wantActor:  "<nil>",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "empty type array",
			doc:        `{"type":[]}`,
			wantType:   "<nil>",
			wantActor:  "<nil>",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "object and target as embedded nodes",
			doc:        `{"object":{"id":"https://o","type":"Document"},"target":{"id":"https://t"}}`,
			wantType:   "<nil>",
			wantActor:  "<nil>",
			wantObject: "https://o",
			wantTarget: "https://t",
			wantCorr:   "<nil>",
		},
		{
			name:       "object without id",
			doc:        `{"object":{"type":"Document"},"target":42}`,
			wantType:   "<nil>",
			wantActor:  "<nil>",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
		{
			name:       "correlationId preferred",
			doc:        `{"correlationId":"c-1","inReplyTo":"https://r"}`,
			wantType:   "<nil>",
			wantActor:  "<nil>",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "c-1",
		},
		{
			name:       "inReplyTo fallback",
			doc:        `{"correlationId":7,"inReplyTo":"https://r"}`,
			wantType:   "<nil>",
			wantActor:  "<nil>",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "https://r",
		},
		{
			name:       "non-object document",
			doc:        `["Announce"]`,
			wantType:   "<nil>",
			wantActor:  "<nil>",
			wantObject: "<nil>",
			wantTarget: "<nil>",
			wantCorr:   "<nil>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}

			f := Extract(doc)

			if got := ptrValue(f.Type); got != tt.wantType {
				t.Errorf("type: expected %q, got %q", tt.wantType, got)
			}
			if got := ptrValue(f.Actor); got != tt.wantActor {
				t.Errorf("actor: expected %q, got %q", tt.wantActor, got)
			}
			if got := ptrValue(f.Object); got != tt.wantObject {
				t.Errorf("object: expected %q, got %q", tt.wantObject, got)
			}
			if got := ptrValue(f.Target); got != tt.wantTarget {
				t.Errorf("target: expected %q, got %q", tt.wantTarget, got)
			}
			if got := ptrValue(f.CorrelationToken); got != tt.wantCorr {
				t.Errorf("correlation: expected %q, got %q", tt.wantCorr, got)
			}
		})
	}
}

func TestTypeOf_Scalars(t *testing.T) {
	doc, err := Parse([]byte(`{"type":12}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ptrValue(TypeOf(doc)); got != "12" {
		t.Errorf("expected numeric type rendered as %q, got %q", "12", got)
	}

	doc, _ = Parse([]byte(`{"type":{"id":"x"}}`))
	if got := TypeOf(doc); got != nil {
		t.Errorf("expected nil type for object, got %q", *got)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    Kind
		wantErr bool
	}{
		{name: "object", input: `{"a":1}`, kind: KindObject},
		{name: "array", input: `[1,2]`, kind: KindArray},
		{name: "string", input: `"x"`, kind: KindString},
		{name: "null", input: `null`, kind: KindNull},
		{name: "surrounding whitespace", input: " {}\n", kind: KindObject},
		{name: "not json", input: `hello`, wantErr: true},
		{name: "truncated", input: `{"a":`, wantErr: true},
		{name: "trailing data", input: `{} {}`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, v.Kind())
			}
		})
	}
}

func TestParse_TrailingData(t *testing.T) {
	_, err := Parse([]byte(`{"a":1} {"b":2}`))
	if !errors.Is(err, ErrTrailingData) {
		t.Errorf("expected ErrTrailingData, got %v", err)
	}
}
