package recognition

import (
	"fmt"
	"strconv"
	"strings"
)

// Candidate names one place a field may live in a raw engine result. Path
// is walked through nested objects; the value found there is then coerced
// to a string.
type Candidate struct {
	Name string
	Path []string
}

func at(path ...string) Candidate {
	return Candidate{Name: strings.Join(path, "."), Path: path}
}

// Field is an ordered list of candidates for one logical field.
type Field []Candidate

// Resolve returns the first candidate that yields a usable value, and the
// candidate's name. Both are empty when nothing matches.
func (f Field) Resolve(raw map[string]any) (string, string) {
	for _, c := range f {
		v, ok := lookup(raw, c.Path)
		if !ok {
			continue
		}
		if s, ok := coerce(v); ok {
			return s, c.Name
		}
	}
	return "", ""
}

// Value is Resolve without the candidate name.
func (f Field) Value(raw map[string]any) string {
	s, _ := f.Resolve(raw)
	return s
}

// The candidate tables. Order matters: the first usable value wins.
var (
	FirstName      = Field{at("firstName", "latin"), at("firstName", "value"), at("firstName", "raw"), at("firstName")}
	LastName       = Field{at("lastName", "latin"), at("lastName", "value"), at("lastName", "raw"), at("lastName")}
	DateOfBirth    = Field{at("dateOfBirth", "originalString"), at("dateOfBirth"), at("dob")}
	DateOfExpiry   = Field{at("dateOfExpiry", "originalString"), at("dateOfExpiry"), at("expiryDate")}
	DocumentNumber = Field{at("documentNumber"), at("mrz", "documentNumber"), at("mrz", "primaryIdNumber"), at("idNumber")}
	Country        = Field{at("classInfo", "issuer"), at("issuer"), at("nationality")}
	DocumentType   = Field{at("classInfo", "documentType"), at("documentType"), at("documentTypeText")}
	MRZCode        = Field{at("mrz", "documentCode"), at("mrzResult", "documentCode")}
	MRZText        = Field{at("mrz", "mrzText"), at("mrzResult", "mrzText")}
)

func lookup(raw map[string]any, path []string) (any, bool) {
	var cur any = raw
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// coerce turns one raw value into a field string. Strings are trimmed and
// blank ones skipped; numbers are formatted; objects are searched for their
// value/latin/raw/originalString members, or a year/month/day date.
func coerce(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case map[string]any:
		for _, key := range []string{"value", "latin", "raw", "originalString"} {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
		return date(t)
	}
	return "", false
}

func date(m map[string]any) (string, bool) {
	y, ok1 := number(m["year"])
	mo, ok2 := number(m["month"])
	d, ok3 := number(m["day"])
	if !ok1 || !ok2 || !ok3 || y == 0 {
		return "", false
	}
	return fmt.Sprintf("%d-%02d-%02d", y, mo, d), true
}

func number(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}
