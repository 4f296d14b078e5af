package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Product is one catalog record as produced by the spreadsheet tooling.
type Product struct {
	Code            string          `json:"codigo"`
	Name            string          `json:"nombre"`
	Description     string          `json:"descripcion"`
	Category        string          `json:"categoria"`
	Measurements    string          `json:"medidas"`
	Price           float64         `json:"precio"`
	Images          []string        `json:"imagenes"`
	VariantImage    string          `json:"imagenVariantes,omitempty"`
	NoColor         bool            `json:"sinColor"`
	AllowAssortment bool            `json:"permitirSurtido"`
	Visibility      string          `json:"estado"`
	Colors          map[string]bool `json:"colores"`
	VariantCodes    map[string]bool `json:"variantes"`
}

// Catalog is the decoded catalog feed.
type Catalog struct {
	Products  []Product `json:"productos"`
	Version   string    `json:"version,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// DecodeCatalog accepts both shapes of the catalog feed: a bare JSON array
// of products, or an envelope object with a "productos" field.
func DecodeCatalog(data []byte) (*Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty catalog document")
	}

	switch trimmed[0] {
	case '[':
		var products []Product
		if err := json.Unmarshal(trimmed, &products); err != nil {
			return nil, fmt.Errorf("failed to decode product list: %w", err)
		}
		return &Catalog{Products: products}, nil
	case '{':
		var envelope struct {
			Products  []Product       `json:"productos"`
			Version   json.RawMessage `json:"version"`
			Timestamp json.RawMessage `json:"timestamp"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode catalog envelope: %w", err)
		}
		if envelope.Products == nil {
			return nil, fmt.Errorf("catalog envelope has no productos field")
		}
		return &Catalog{
			Products:  envelope.Products,
			Version:   rawScalar(envelope.Version),
			Timestamp: rawScalar(envelope.Timestamp),
		}, nil
	default:
		return nil, fmt.Errorf("unexpected catalog document starting with %q", trimmed[0])
	}
}

// rawScalar renders a JSON string or number as plain text.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Visible returns the products whose status tag is not "oculto".
func (c *Catalog) Visible() []Product {
	visible := make([]Product, 0, len(c.Products))
	for _, p := range c.Products {
		if p.Visibility != "oculto" {
			visible = append(visible, p)
		}
	}
	return visible
}

// Categories returns the number of products per category.
func (c *Catalog) Categories() map[string]int {
	counts := make(map[string]int)
	for _, p := range c.Products {
		counts[p.Category]++
	}
	return counts
}
