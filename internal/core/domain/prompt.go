package domain

// PromptVariant is one named body of a managed prompt.
type PromptVariant struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// PromptTemplate is a versioned prompt fetched from a prompt store.
type PromptTemplate struct {
	Identifier     string          `json:"identifier"`
	Version        string          `json:"version"`
	DefaultVariant string          `json:"default_variant"`
	Variants       []PromptVariant `json:"variants"`
}

// Variant returns the variant with the given name.
func (t *PromptTemplate) Variant(name string) (PromptVariant, bool) {
	if t == nil {
		return PromptVariant{}, false
	}
	for _, v := range t.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return PromptVariant{}, false
}
