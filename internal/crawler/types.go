package crawler

// Specification is one label/value pair from a property's attribute blocks
type Specification struct {
	Label string `json:"label" bson:"label"`
	Value string `json:"value" bson:"value"`
}

// Specifications keeps attribute pairs in document order
type Specifications []Specification

// Get returns the value of the first pair with exactly this label
func (s Specifications) Get(label string) (string, bool) {
	for _, spec := range s {
		if spec.Label == label {
			return spec.Value, true
		}
	}
	return "", false
}

// add appends a pair unless the label was already seen
func (s Specifications) add(label, value string) Specifications {
	if _, exists := s.Get(label); exists {
		return s
	}
	return append(s, Specification{Label: label, Value: value})
}

// RawProperty holds the text extracted from one property page. Fields the
// page does not provide stay empty.
type RawProperty struct {
	Title          string         `json:"title"`
	Content        string         `json:"content,omitempty"`
	Price          string         `json:"price,omitempty"`
	Size           string         `json:"size,omitempty"`
	Address        string         `json:"address,omitempty"`
	Latitude       string         `json:"latitude,omitempty"`
	Longitude      string         `json:"longitude,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Images         []string       `json:"images,omitempty"`
	Specifications Specifications `json:"specifications,omitempty"`
	SourceURL      string         `json:"source_url"`
}
