package pattern

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPattern_UnmarshalJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		wantEmb []float32
		wantErr bool
	}{
		{
			name:    "float embedding",
			in:      `{"id":"p1","type":"semantic","embedding":[0.5,-0.25]}`,
			wantEmb: []float32{0.5, -0.25},
		},
		{
			name:    "quantized embedding",
			in:      `{"id":"p1","type":"semantic","embedding":[127,-127,0]}`,
			wantEmb: []float32{1, -1, 0},
		},
		{
			name:    "leading integer in float embedding",
			in:      `{"id":"p1","type":"semantic","embedding":[0,0.5]}`,
			wantEmb: []float32{0, 0.5},
		},
		{
			name:    "out of int8 range is float",
			in:      `{"id":"p1","type":"semantic","embedding":[300,1]}`,
			wantEmb: []float32{300, 1},
		},
		{
			name: "no embedding",
			in:   `{"id":"p1","type":"exact","fingerprint":[1,-2]}`,
		},
		{
			name:    "bad embedding",
			in:      `{"id":"p1","type":"semantic","embedding":"nope"}`,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var p Pattern
			err := json.Unmarshal([]byte(tc.in), &p)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPattern) {
					t.Fatalf("err = %v, want ErrInvalidPattern", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if len(p.Embedding) != len(tc.wantEmb) {
				t.Fatalf("embedding = %v, want %v", p.Embedding, tc.wantEmb)
			}
			for i := range tc.wantEmb {
				if p.Embedding[i] != tc.wantEmb[i] {
					t.Errorf("embedding[%d] = %v, want %v", i, p.Embedding[i], tc.wantEmb[i])
				}
			}
		})
	}
}

func TestPattern_Defaults(t *testing.T) {
	t.Parallel()
	var p Pattern
	if err := json.Unmarshal([]byte(`{"id":"x","type":"semantic"}`), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.threshold() != DefaultThreshold {
		t.Errorf("threshold = %v, want %v", p.threshold(), DefaultThreshold)
	}
	if p.name() != "Unknown" {
		t.Errorf("name = %q, want Unknown", p.name())
	}
}

func TestPattern_ExplicitThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want float64
	}{
		{in: `{"id":"x","type":"semantic","threshold":0.5}`, want: 0.5},
		{in: `{"id":"x","type":"semantic","threshold":0}`, want: 0},
		{in: `{"id":"x","type":"semantic","threshold":null}`, want: DefaultThreshold},
	}
	for _, tt := range tests {
		var p Pattern
		if err := json.Unmarshal([]byte(tt.in), &p); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if got := p.threshold(); got != tt.want {
			t.Errorf("Unmarshal(%s): threshold = %v, want %v", tt.in, got, tt.want)
		}
	}

	zero := 0.0
	data, err := json.Marshal(Pattern{ID: "z", Type: TypeSemantic, Threshold: &zero})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Pattern
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Threshold == nil || *back.Threshold != 0 {
		t.Errorf("explicit zero threshold lost in round trip: %s", data)
	}
}

func TestPattern_MarshalRoundTrip(t *testing.T) {
	t.Parallel()
	in := Pattern{ID: "p", Name: "intro", Type: TypeExact, Fingerprint: []int32{1, -5}, Duration: 3.5}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Pattern
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.ID != in.ID || out.Name != in.Name || out.Type != in.Type || out.Duration != in.Duration {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if len(out.Fingerprint) != 2 || out.Fingerprint[1] != -5 {
		t.Errorf("fingerprint = %v", out.Fingerprint)
	}
}

func TestParsePatterns_SkipsUnknownTypes(t *testing.T) {
	t.Parallel()
	ps, err := ParsePatterns([]byte(`[{"id":"a","type":"exact"},{"id":"b","type":"fuzzy"},{"id":"c","type":"semantic"}]`))
	if err != nil {
		t.Fatalf("ParsePatterns: %v", err)
	}
	if len(ps) != 2 || ps[0].ID != "a" || ps[1].ID != "c" {
		t.Errorf("patterns = %+v, want a and c", ps)
	}
}
