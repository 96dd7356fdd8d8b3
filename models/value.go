package models

import (
	"strconv"
	"strings"
)

// Kind is the storage type of a field. It decides how a value is rendered
// and which default fills the column when a record lacks the field.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
	// KindCoordinate is numeric but defaults to blank: 0,0 is a real place.
	KindCoordinate
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindCoordinate:
		return "coordinate"
	default:
		return "text"
	}
}

// Default is the cell written for a column the record does not carry a
// known value for.
func (k Kind) Default() string {
	switch k {
	case KindNumber:
		return "0"
	case KindBool:
		return "false"
	default:
		return ""
	}
}

// Value is one scalar field value. The zero Value is unknown text.
// Unknown is distinct from a known empty string.
type Value struct {
	kind  Kind
	known bool
	text  string
	num   float64
	flag  bool
}

// Unknown returns the "no strategy produced a value" sentinel for kind.
func Unknown(kind Kind) Value { return Value{kind: kind} }

func Text(s string) Value { return Value{kind: KindText, known: true, text: s} }

func Number(f float64) Value { return Value{kind: KindNumber, known: true, num: f} }

func Coordinate(f float64) Value { return Value{kind: KindCoordinate, known: true, num: f} }

func Bool(b bool) Value { return Value{kind: KindBool, known: true, flag: b} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUnknown() bool { return !v.known }

// IsPresent reports whether the value is known and carries substance:
// non-blank text, any number, or true.
func (v Value) IsPresent() bool {
	if !v.known {
		return false
	}
	switch v.kind {
	case KindText:
		return strings.TrimSpace(v.text) != ""
	case KindBool:
		return v.flag
	default:
		return true
	}
}

// Float returns the numeric value, if v is a known number or coordinate.
func (v Value) Float() (float64, bool) {
	if !v.known || (v.kind != KindNumber && v.kind != KindCoordinate) {
		return 0, false
	}
	return v.num, true
}

// Str returns the text content, or "" when v is not known text.
func (v Value) Str() string {
	if !v.known || v.kind != KindText {
		return ""
	}
	return v.text
}

// String renders the value as a store cell; unknown renders as the kind's default.
func (v Value) String() string {
	if !v.known {
		return v.kind.Default()
	}
	switch v.kind {
	case KindNumber, KindCoordinate:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	default:
		return v.text
	}
}

// Interface returns the value as a plain Go value for JSON encoding; nil when unknown.
func (v Value) Interface() any {
	if !v.known {
		return nil
	}
	switch v.kind {
	case KindNumber, KindCoordinate:
		return v.num
	case KindBool:
		return v.flag
	default:
		return v.text
	}
}
