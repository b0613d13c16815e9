package engine

import (
	"fmt"
	"strings"
)

// Action is a routine the engine script knows how to run.
type Action string

const (
	// ActionInspect extracts fonts, pages and page items from a document.
	ActionInspect Action = "inspect"
)

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	switch a := Action(name); a {
	case ActionInspect:
		return a, nil
	default:
		return "", fmt.Errorf("unknown engine action %q", name)
	}
}

// Units are the measurement units a report is expressed in.
type Units string

const (
	UnitsMillimeters Units = "mm"
	UnitsCentimeters Units = "cm"
	UnitsPoints      Units = "pt"
	UnitsPixels      Units = "px"
)

// DefaultUnits is used when a request does not name units.
const DefaultUnits = UnitsPoints

// ParseUnits validates a units route parameter. Empty means DefaultUnits.
func ParseUnits(s string) (Units, error) {
	switch u := Units(strings.ToLower(strings.TrimSpace(s))); u {
	case "":
		return DefaultUnits, nil
	case UnitsMillimeters, UnitsCentimeters, UnitsPoints, UnitsPixels:
		return u, nil
	default:
		return "", fmt.Errorf("unsupported units %q, expected one of mm, cm, pt, px", s)
	}
}
