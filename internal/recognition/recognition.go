// Package recognition turns raw engine scan results into identity fields and
// applies the document acceptance policy.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/andresmejia3/idgate/internal/engine"
	"github.com/andresmejia3/idgate/internal/types"
)

var (
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrScreenshotSuspected = errors.New("detected screen image, please scan a physical document")
)

// DefaultConfidence is reported when the engine gives none.
const DefaultConfidence = 0.9

// Kind is the coarse document class.
type Kind int

const (
	KindOther Kind = iota
	KindID
	KindPassport
)

func (k Kind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindPassport:
		return "passport"
	default:
		return "other"
	}
}

// Label is the human name used when the engine did not supply a type.
func (k Kind) Label() string {
	switch k {
	case KindID:
		return "Identity Card"
	case KindPassport:
		return "Passport"
	default:
		return "Unknown"
	}
}

// ParseKind accepts "id" or "passport".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "id":
		return KindID, nil
	case "passport":
		return KindPassport, nil
	}
	return KindOther, fmt.Errorf("unknown document kind %q (want id or passport)", s)
}

var (
	idPattern       = regexp.MustCompile(`(?i)(identity\s*card|id\s*card|personal\s*id|lična\s*karta|licna\s*karta)`)
	passportPattern = regexp.MustCompile(`(?i)passport`)
)

// Classify derives the document kind from the type text, falling back to the
// MRZ document code ('P' marks a passport).
func Classify(raw map[string]any) Kind {
	if txt := DocumentType.Value(raw); txt != "" {
		if idPattern.MatchString(txt) {
			return KindID
		}
		if passportPattern.MatchString(txt) {
			return KindPassport
		}
	}
	if strings.HasPrefix(MRZCode.Value(raw), "P") {
		return KindPassport
	}
	return KindOther
}

// Result is either IdentityFields or Unrecognized.
type Result interface {
	isResult()
}

// IdentityFields is a recognised document.
type IdentityFields struct {
	FirstName           string  `json:"firstName" yaml:"first_name"`
	LastName            string  `json:"lastName" yaml:"last_name"`
	DateOfBirth         string  `json:"dateOfBirth" yaml:"date_of_birth"`
	Expires             string  `json:"expires" yaml:"expires"`
	DocumentNumber      string  `json:"documentNumber" yaml:"document_number"`
	Country             string  `json:"country,omitempty" yaml:"country,omitempty"`
	DocumentType        string  `json:"documentType" yaml:"document_type"`
	Kind                Kind    `json:"-" yaml:"-"`
	ScreenshotSuspected bool    `json:"isScreenshotSuspected" yaml:"screenshot_suspected"`
	GlareDetected       bool    `json:"glareDetected" yaml:"glare_detected"`
	Confidence          float64 `json:"confidence" yaml:"confidence"`
}

// Unrecognized means the engine returned nothing identifying.
type Unrecognized struct {
	Reason string `json:"reason" yaml:"reason"`
}

func (IdentityFields) isResult() {}
func (Unrecognized) isResult() {}

// Map resolves a raw engine result.
func Map(raw map[string]any) Result {
	if len(raw) == 0 {
		return Unrecognized{Reason: "empty result"}
	}
	f := IdentityFields{
		FirstName:           FirstName.Value(raw),
		LastName:            LastName.Value(raw),
		DateOfBirth:         DateOfBirth.Value(raw),
		Expires:             DateOfExpiry.Value(raw),
		DocumentNumber:      DocumentNumber.Value(raw),
		Country:             Country.Value(raw),
		DocumentType:        DocumentType.Value(raw),
		Kind:                Classify(raw),
		ScreenshotSuspected: flag(raw, "isScreenshotSuspected"),
		GlareDetected:       flag(raw, "isGlareDetected"),
		Confidence:          DefaultConfidence,
	}
	if c, ok := raw["recognitionConfidence"].(float64); ok {
		f.Confidence = c
	}
	if f.FirstName == "" && f.LastName == "" && f.DocumentNumber == "" {
		return Unrecognized{Reason: "no identifying fields"}
	}
	// An MRZ without an explicit class is read as a passport.
	if f.DocumentType == "" && (MRZText.Value(raw) != "" || MRZCode.Value(raw) != "") {
		f.DocumentType = KindPassport.Label()
	}
	if f.DocumentType == "" {
		f.DocumentType = f.Kind.Label()
	}
	return f
}

func flag(raw map[string]any, key string) bool {
	b, _ := raw[key].(bool)
	return b
}

// Policy is the set of acceptable document kinds.
type Policy struct {
	Allowed           []Kind
	AllowUnclassified bool
}

// DefaultPolicy accepts identity cards and passports.
func DefaultPolicy() Policy {
	return Policy{Allowed: []Kind{KindID, KindPassport}}
}

// Permits reports whether documents of kind k are accepted.
func (p Policy) Permits(k Kind) bool {
	if k == KindOther {
		return p.AllowUnclassified
	}
	for _, a := range p.Allowed {
		if a == k {
			return true
		}
	}
	return false
}

func (p Policy) allowedList() string {
	names := make([]string, len(p.Allowed))
	for i, k := range p.Allowed {
		names[i] = strings.ToUpper(k.String())
	}
	return strings.Join(names, " or ")
}

// Check applies the policy to a recognised document.
func (p Policy) Check(f IdentityFields) error {
	if !p.Permits(f.Kind) {
		return fmt.Errorf("%w (%s), allowed: %s", ErrUnsupportedDocument, f.DocumentType, p.allowedList())
	}
	if f.ScreenshotSuspected {
		return ErrScreenshotSuspected
	}
	return nil
}

// Verify scans both committed sides and resolves the combined result. Keys
// from the back scan override the front's. An Unrecognized result is
// returned without error; policy failures are returned as errors alongside
// the fields.
func Verify(ctx context.Context, eng engine.Engine, front, back []byte, p Policy) (Result, error) {
	if eng == nil || !eng.Ready() {
		return nil, engine.ErrNotInitialized
	}
	raw, err := eng.ScanSide(ctx, front, types.Front)
	if err != nil {
		return nil, fmt.Errorf("scan front: %w", err)
	}
	backRaw, err := eng.ScanSide(ctx, back, types.Back)
	if err != nil {
		return nil, fmt.Errorf("scan back: %w", err)
	}
	merged := make(map[string]any, len(raw)+len(backRaw))
	maps.Copy(merged, raw)
	maps.Copy(merged, backRaw)

	res := Map(merged)
	f, ok := res.(IdentityFields)
	if !ok {
		return res, nil
	}
	return f, p.Check(f)
}
