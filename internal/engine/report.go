package engine

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ElementType names the kind of a page item in a report.
type ElementType string

const (
	ElementTextFrame ElementType = "text_frame"
	ElementPolygon   ElementType = "polygon"
	ElementOval      ElementType = "oval"
	ElementRectangle ElementType = "rectangle"
	ElementGroup     ElementType = "group"
	ElementImage     ElementType = "image"
)

// Report is the result of the inspect action.
type Report struct {
	Fonts []Font `json:"fonts"`
	Pages []Page `json:"pages"`
}

// Font is a font used by the document.
type Font struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Page is one document page with its items.
type Page struct {
	Page     int       `json:"page"`
	Units    Units     `json:"units"`
	Geometry Geometry  `json:"geometry"`
	Preview  string    `json:"preview,omitempty"`
	Content  []Element `json:"content"`
}

// Geometry is a bounding box in the page units.
type Geometry struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Angle  *float64 `json:"angle,omitempty"`
}

// Element is a page item. Content holds text runs for text frames and
// nested elements for shapes and groups.
type Element struct {
	UID      string          `json:"uid,omitempty"`
	Type     ElementType     `json:"type"`
	Geometry *Geometry       `json:"geometry,omitempty"`
	Preview  string          `json:"preview,omitempty"`
	Source   string          `json:"source,omitempty"`
	Images   []Element       `json:"images,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// TextRun is a styled run of text inside a text frame.
type TextRun struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	FontName string          `json:"fontName"`
	FontSize float64         `json:"fontSize"`
	Color    json.RawMessage `json:"color,omitempty"`
	Style    []string        `json:"style,omitempty"`
}

// ParseReport decodes an inspect result.
func ParseReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// TextRuns decodes the runs of a text frame.
func (e Element) TextRuns() ([]TextRun, error) {
	if e.Type != ElementTextFrame {
		return nil, fmt.Errorf("element %s is a %s, not a text frame", e.UID, e.Type)
	}
	var runs []TextRun
	if len(e.Content) == 0 {
		return runs, nil
	}
	if err := json.Unmarshal(e.Content, &runs); err != nil {
		return nil, fmt.Errorf("decode text runs of %s: %w", e.UID, err)
	}
	return runs, nil
}

// Children decodes the nested elements of a shape or group.
func (e Element) Children() ([]Element, error) {
	if e.Type == ElementTextFrame || len(e.Content) == 0 {
		return nil, nil
	}
	var children []Element
	if err := json.Unmarshal(e.Content, &children); err != nil {
		return nil, fmt.Errorf("decode children of %s: %w", e.UID, err)
	}
	return children, nil
}

// Summary counts the elements of a report, nested ones included.
type Summary struct {
	Pages    int
	Fonts    int
	Elements map[ElementType]int
}

// Types returns the element types present, sorted.
func (s Summary) Types() []ElementType {
	types := make([]ElementType, 0, len(s.Elements))
	for t := range s.Elements {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Summarize walks the report tree.
func (r *Report) Summarize() (Summary, error) {
	s := Summary{Pages: len(r.Pages), Fonts: len(r.Fonts), Elements: make(map[ElementType]int)}

	var walk func(items []Element) error
	walk = func(items []Element) error {
		for _, el := range items {
			s.Elements[el.Type]++
			if err := walk(el.Images); err != nil {
				return err
			}
			children, err := el.Children()
			if err != nil {
				return err
			}
			if err := walk(children); err != nil {
				return err
			}
		}
		return nil
	}

	for _, p := range r.Pages {
		if err := walk(p.Content); err != nil {
			return Summary{}, err
		}
	}
	return s, nil
}
