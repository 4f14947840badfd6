package recognition

import (
	"context"
	"errors"
	"testing"

	"github.com/andresmejia3/idgate/internal/engine"
	"github.com/andresmejia3/idgate/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]any
		expected Kind
	}{
		{"identity card text", map[string]any{"documentType": "Identity Card"}, KindID},
		{"class info", map[string]any{"classInfo": map[string]any{"documentType": "Personal ID"}}, KindID},
		{"serbian", map[string]any{"documentTypeText": "Lična karta"}, KindID},
		{"passport text", map[string]any{"documentType": "PASSPORT"}, KindPassport},
		{"mrz code", map[string]any{"mrz": map[string]any{"documentCode": "P<"}}, KindPassport},
		{"id mrz code", map[string]any{"mrz": map[string]any{"documentCode": "ID"}}, KindOther},
		{"driver licence", map[string]any{"documentType": "Driver License"}, KindOther},
		{"empty", map[string]any{}, KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.raw); got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMap(t *testing.T) {
	res := Map(map[string]any{
		"firstName":       map[string]any{"latin": "MILJAN"},
		"lastName":        "PETROVIC",
		"documentNumber":  "123",
		"mrz":             map[string]any{"mrzText": "IDSRB..."},
		"isGlareDetected": true,
	})
	f, ok := res.(IdentityFields)
	if !ok {
		t.Fatalf("expected IdentityFields, got %T", res)
	}
	if f.FirstName != "MILJAN" || f.LastName != "PETROVIC" || f.DocumentNumber != "123" {
		t.Errorf("unexpected fields %+v", f)
	}
	if f.DocumentType != "Passport" {
		t.Errorf("MRZ without class should read as passport, got %q", f.DocumentType)
	}
	if f.Confidence != DefaultConfidence || !f.GlareDetected {
		t.Errorf("confidence=%v glare=%v", f.Confidence, f.GlareDetected)
	}

	if _, ok := Map(nil).(Unrecognized); !ok {
		t.Error("empty result should be Unrecognized")
	}
	if _, ok := Map(map[string]any{"documentType": "Passport"}).(Unrecognized); !ok {
		t.Error("result without identifying fields should be Unrecognized")
	}
}

func TestPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		fields IdentityFields
		err    error
	}{
		{"id allowed", DefaultPolicy(), IdentityFields{Kind: KindID}, nil},
		{"passport not allowed", Policy{Allowed: []Kind{KindID}}, IdentityFields{Kind: KindPassport}, ErrUnsupportedDocument},
		{"other rejected by default", DefaultPolicy(), IdentityFields{Kind: KindOther}, ErrUnsupportedDocument},
		{"other opted in", Policy{Allowed: []Kind{KindID}, AllowUnclassified: true}, IdentityFields{Kind: KindOther}, nil},
		{"screenshot", DefaultPolicy(), IdentityFields{Kind: KindID, ScreenshotSuspected: true}, ErrScreenshotSuspected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Check(tt.fields)
			if !errors.Is(err, tt.err) {
				t.Errorf("Check() = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Passport "); err != nil || k != KindPassport {
		t.Errorf("ParseKind = %v, %v", k, err)
	}
	if _, err := ParseKind("visa"); err == nil {
		t.Error("expected error")
	}
}

type scanEngine struct {
	ready bool
	scans map[types.Side]map[string]any
	err   error
}

func (s *scanEngine) Init(context.Context, string) error { return nil }
func (s *scanEngine) Ready() bool { return s.ready }
func (s *scanEngine) ScanSide(_ context.Context, _ []byte, side types.Side) (map[string]any, error) {
	return s.scans[side], s.err
}
func (s *scanEngine) QuickCheckSide(context.Context, []byte, types.Side) (bool, error) {
	return true, nil
}
func (s *scanEngine) Close() error { return nil }

func TestVerify(t *testing.T) {
	ctx := context.Background()

	if _, err := Verify(ctx, &scanEngine{}, nil, nil, DefaultPolicy()); !errors.Is(err, engine.ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}

	eng := &scanEngine{ready: true, scans: map[types.Side]map[string]any{
		types.Front: {"firstName": "ANA", "documentType": "Identity Card", "recognitionConfidence": 0.97},
		types.Back:  {"documentNumber": "009"},
	}}
	res, err := Verify(ctx, eng, []byte{1}, []byte{2}, DefaultPolicy())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	f := res.(IdentityFields)
	if f.FirstName != "ANA" || f.DocumentNumber != "009" || f.Kind != KindID || f.Confidence != 0.97 {
		t.Errorf("unexpected merge %+v", f)
	}

	eng.err = errors.New("boom")
	if _, err := Verify(ctx, eng, nil, nil, DefaultPolicy()); err == nil {
		t.Error("expected scan error")
	}
}
