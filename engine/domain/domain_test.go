package domain

import (
	"errors"
	"testing"
)

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RTU-F04", "RTUF04"},
		{"rtu f04", "RTUF04"},
		{"rtu_f04", "RTUF04"},
		{"AHU.1", "AHU1"},
		{"vfd/101", "VFD101"},
		{"  MCC-3  ", "MCC3"},
		{"", ""},
		{"- _ ./", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTag(tt.in); got != tt.want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTagEquivalence(t *testing.T) {
	variants := []string{"RTU-F04", "rtu f04", "RTU_F04", "Rtu-F04", "rtu.f04"}
	want := NormalizeTag(variants[0])
	for _, v := range variants[1:] {
		if got := NormalizeTag(v); got != want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestFactLogicalKey(t *testing.T) {
	tests := []struct {
		name string
		fact Fact
		want string
	}{
		{
			name: "io point keyed by point name",
			fact: Fact{Type: FactIOPoint, Payload: map[string]any{"point_name": "SupplyTemp"}},
			want: "SUPPLYTEMP",
		},
		{
			name: "alarm keyed by alarm name",
			fact: Fact{Type: FactAlarm, Payload: map[string]any{"alarm_name": " high static "}},
			want: "HIGH STATIC",
		},
		{
			name: "sequence keyed by mode",
			fact: Fact{Type: FactSequence, Payload: map[string]any{"mode": "occupied"}},
			want: "OCCUPIED",
		},
		{
			name: "specification has no key",
			fact: Fact{Type: FactSpecification, Payload: map[string]any{"voltage": "480V"}},
			want: "",
		},
		{
			name: "missing key field",
			fact: Fact{Type: FactIOPoint, Payload: map[string]any{"other": "x"}},
			want: "",
		},
		{
			name: "non-string key field",
			fact: Fact{Type: FactAlarm, Payload: map[string]any{"alarm_name": 42}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FactLogicalKey(tt.fact); got != tt.want {
				t.Errorf("FactLogicalKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateFactCandidate(t *testing.T) {
	tests := []struct {
		name    string
		cand    FactCandidate
		wantErr bool
	}{
		{
			name: "valid io point",
			cand: FactCandidate{TagRaw: "AHU-1", DataType: FactIOPoint,
				Payload: map[string]any{"point_name": "SAT", "signal": "AI"}},
		},
		{
			name: "valid specification without key",
			cand: FactCandidate{TagRaw: "AHU-1", DataType: FactSpecification,
				Payload: map[string]any{"cfm": 12000}},
		},
		{
			name:    "unknown data type",
			cand:    FactCandidate{TagRaw: "AHU-1", DataType: "BOGUS", Payload: map[string]any{"x": 1}},
			wantErr: true,
		},
		{
			name:    "empty payload",
			cand:    FactCandidate{TagRaw: "AHU-1", DataType: FactAlarm, Payload: map[string]any{}},
			wantErr: true,
		},
		{
			name: "missing key field",
			cand: FactCandidate{TagRaw: "AHU-1", DataType: FactAlarm,
				Payload: map[string]any{"setpoint": 55}},
			wantErr: true,
		},
		{
			name: "blank key field",
			cand: FactCandidate{TagRaw: "AHU-1", DataType: FactSequence,
				Payload: map[string]any{"mode": "   "}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFactCandidate(tt.cand)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateFactCandidate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFact) {
				t.Errorf("error should wrap ErrInvalidFact, got %v", err)
			}
		})
	}
}

func TestValidateRelationshipCandidate(t *testing.T) {
	tests := []struct {
		name    string
		cand    RelationshipCandidate
		wantErr bool
	}{
		{
			name: "valid feeds edge",
			cand: RelationshipCandidate{SourceTagRaw: "MCC-3", TargetTagRaw: "VFD-101",
				Type: EdgeFeeds, Category: CategoryElectrical, Confidence: 0.9},
		},
		{
			name: "unknown type",
			cand: RelationshipCandidate{SourceTagRaw: "A-1", TargetTagRaw: "B-1",
				Type: "powers", Category: CategoryElectrical},
			wantErr: true,
		},
		{
			name: "unknown category",
			cand: RelationshipCandidate{SourceTagRaw: "A-1", TargetTagRaw: "B-1",
				Type: EdgeFeeds, Category: "PLUMBING"},
			wantErr: true,
		},
		{
			name: "self loop after normalization",
			cand: RelationshipCandidate{SourceTagRaw: "AHU-1", TargetTagRaw: "ahu 1",
				Type: EdgeFeeds, Category: CategoryElectrical},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelationshipCandidate(tt.cand)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRelationshipCandidate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEdge) {
				t.Errorf("error should wrap ErrInvalidEdge, got %v", err)
			}
		})
	}
}

func TestInverseEdgeTypeIsSymmetric(t *testing.T) {
	for typ, inv := range InverseEdgeType {
		if back, ok := InverseEdgeType[inv]; !ok || back != typ {
			t.Errorf("InverseEdgeType[%s] = %s, but inverse of %s is %s", typ, inv, inv, back)
		}
		if !ValidEdgeTypes[inv] {
			t.Errorf("inverse %s of %s is not a valid edge type", inv, typ)
		}
	}
}

func TestEdgeTypeCategoryCoversAllTypes(t *testing.T) {
	for typ := range ValidEdgeTypes {
		cat, ok := EdgeTypeCategory[typ]
		if !ok {
			t.Errorf("edge type %s has no default category", typ)
			continue
		}
		if !ValidEdgeCategories[cat] {
			t.Errorf("edge type %s maps to invalid category %s", typ, cat)
		}
	}
}
