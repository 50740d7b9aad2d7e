package activity

// Fields are the ActivityStreams properties indexed on every stored
// notification. A nil pointer means the property was absent or unusable.
type Fields struct {
	Type             *string
	Object           *string
	Target           *string
	Actor            *string
	CorrelationToken *string
}

// Extract pulls the indexed properties out of an activity document without
// any JSON-LD expansion. It never fails: malformed members are reported as
// absent.
func Extract(doc Value) Fields {
	f := Fields{
		Type:   TypeOf(doc),
		Object: reference(doc, "object"),
		Target: reference(doc, "target"),
		Actor:  reference(doc, "actor"),
	}

	if f.Actor == nil {
		if attributed, ok := doc.Field("attributedTo"); ok {
			f.Actor = str(attributed)
		}
	}

	if corr, ok := doc.Field("correlationId"); ok {
		f.CorrelationToken = str(corr)
	}
	if f.CorrelationToken == nil {
		if reply, ok := doc.Field("inReplyTo"); ok {
			f.CorrelationToken = str(reply)
		}
	}

	return f
}

// TypeOf returns the activity type: the first entry when "type" is an
// array, the value itself when it is a scalar.
func TypeOf(doc Value) *string {
	t, ok := doc.Field("type")
	if !ok {
		return nil
	}
	if t.Kind() == KindArray {
		first, ok := t.Index(0)
		if !ok {
			return nil
		}
		t = first
	}
	if s, ok := t.Scalar(); ok {
		return &s
	}
	return nil
}

// reference resolves a property that may be an embedded object carrying an
// "id" or a bare IRI string.
func reference(doc Value, name string) *string {
	v, ok := doc.Field(name)
	if !ok {
		return nil
	}
	switch v.Kind() {
	case KindObject:
		id, ok := v.Field("id")
		if !ok {
			return nil
		}
		return str(id)
	case KindString:
		return str(v)
	default:
		return nil
	}
}

func str(v Value) *string {
	s, ok := v.Str()
	if !ok {
		return nil
	}
	return &s
}
