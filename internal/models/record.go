// Package models defines core data structures for vector records, search
// constraints, and search results.
package models

// Payload is the structured metadata attached to a vector record
// (product id, name, category, image URL). The schema is open; the
// category field is the one used for filtering.
type Payload map[string]interface{}

// Canonical payload field names.
const (
	FieldProductID   = "product_id"
	FieldProductName = "product_name"
	FieldCategory    = "category"
	FieldImageURL    = "image_url"
)

// String returns the payload field as a string, or "" when absent or not a string.
func (p Payload) String(field string) string {
	if p == nil {
		return ""
	}
	s, _ := p[field].(string)
	return s
}

// Category returns the category payload field.
func (p Payload) Category() string {
	return p.String(FieldCategory)
}

// Record is an immutable vector record: an opaque ID, a fixed-length
// embedding, and its payload. Updates replace the whole record.
type Record struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	var payload Payload
	if r.Payload != nil {
		payload = make(Payload, len(r.Payload))
		for k, v := range r.Payload {
			payload[k] = v
		}
	}
	return &Record{ID: r.ID, Vector: vec, Payload: payload}
}

// RecordFilter restricts a similarity query or scan to records matching
// payload constraints. It is a struct rather than a bare predicate so
// backends can push the condition down (a keyword condition in qdrant, a
// WHERE clause in sqlite); Match gives the same semantics for in-memory
// scans.
type RecordFilter struct {
	// Category is an exact-match condition on the category payload field.
	Category string
}

// Match reports whether the payload satisfies the filter. A nil or empty
// filter matches everything.
func (f *RecordFilter) Match(p Payload) bool {
	return f == nil || f.Category == "" || p.Category() == f.Category
}
