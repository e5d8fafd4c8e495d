package h265transport

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParameterName(t *testing.T) {
	tests := []struct {
		base string
		name string
		want string
	}{
		{"camera/image_raw", "crf", "camera.image_raw.h265.crf"},
		{"/camera/image_raw/", "preset", "camera.image_raw.h265.preset"},
		{"image", "gop", "image.h265.gop"},
		{"", "threads", "h265.threads"},
	}

	for _, tt := range tests {
		if got := ParameterName(tt.base, tt.name); got != tt.want {
			t.Errorf("ParameterName(%q, %q) = %q, want %q", tt.base, tt.name, got, tt.want)
		}
	}
}

func TestDeclareParameters_Defaults(t *testing.T) {
	store := NewMapStore(nil)

	params, err := DeclareParameters(store, "camera/image_raw")
	if err != nil {
		t.Fatalf("DeclareParameters failed: %v", err)
	}
	if params != DefaultEncoderParams() {
		t.Errorf("params = %+v, want defaults %+v", params, DefaultEncoderParams())
	}
}

func TestDeclareParameters_Overrides(t *testing.T) {
	store := NewMapStore(map[string]any{
		"camera.image_raw.h265.crf":    20,
		"camera.image_raw.h265.preset": "medium",
		"camera.image_raw.h265.gop":    int64(90),
	})

	params, err := DeclareParameters(store, "camera/image_raw")
	if err != nil {
		t.Fatalf("DeclareParameters failed: %v", err)
	}
	if params.CRF != 20 {
		t.Errorf("CRF = %d, want 20", params.CRF)
	}
	if params.Preset != PresetMedium {
		t.Errorf("Preset = %v, want medium", params.Preset)
	}
	if params.GOPSize != 90 {
		t.Errorf("GOPSize = %d, want 90", params.GOPSize)
	}
	if params.MaxBFrames != 3 {
		t.Errorf("MaxBFrames = %d, want default 3", params.MaxBFrames)
	}
}

func TestDeclareParameters_Idempotent(t *testing.T) {
	store := NewMapStore(nil)

	first, err := DeclareParameters(store, "image")
	if err != nil {
		t.Fatalf("first declare failed: %v", err)
	}
	second, err := DeclareParameters(store, "image")
	if err != nil {
		t.Fatalf("second declare failed: %v", err)
	}
	if first != second {
		t.Errorf("re-declare changed params: %+v vs %+v", first, second)
	}
}

func TestDeclareParameters_BadValues(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
	}{
		{"UnknownPreset", map[string]any{"image.h265.preset": "warpspeed"}},
		{"PresetWrongType", map[string]any{"image.h265.preset": 3}},
		{"CRFWrongType", map[string]any{"image.h265.crf": "high"}},
		{"CRFOutOfRange", map[string]any{"image.h265.crf": 99}},
		{"RefsOutOfRange", map[string]any{"image.h265.refs": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DeclareParameters(NewMapStore(tt.values), "image"); err == nil {
				t.Error("DeclareParameters accepted bad value")
			}
		})
	}
}

func TestEncoderParams_Validate(t *testing.T) {
	if err := DefaultEncoderParams().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*EncoderParams)
	}{
		{"CRFTooHigh", func(p *EncoderParams) { p.CRF = 52 }},
		{"CRFNegative", func(p *EncoderParams) { p.CRF = -1 }},
		{"NegativeGOP", func(p *EncoderParams) { p.GOPSize = -1 }},
		{"TooManyBFrames", func(p *EncoderParams) { p.MaxBFrames = 17 }},
		{"ZeroRefs", func(p *EncoderParams) { p.RefFrames = 0 }},
		{"TooManyThreads", func(p *EncoderParams) { p.Threads = 65 }},
		{"BadPreset", func(p *EncoderParams) { p.Preset = Preset(99) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultEncoderParams()
			tt.mutate(&params)
			if err := params.Validate(); err == nil {
				t.Error("Validate accepted bad params")
			}
		})
	}
}

func TestParamsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h265.yaml")
	content := "preset: veryfast\ncrf: 28\nbframes: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	params, err := ParamsFromFile(path)
	if err != nil {
		t.Fatalf("ParamsFromFile failed: %v", err)
	}
	if params.Preset != PresetVeryfast {
		t.Errorf("Preset = %v, want veryfast", params.Preset)
	}
	if params.CRF != 28 {
		t.Errorf("CRF = %d, want 28", params.CRF)
	}
	if params.MaxBFrames != 0 {
		t.Errorf("MaxBFrames = %d, want 0", params.MaxBFrames)
	}
	if params.RefFrames != 3 {
		t.Errorf("RefFrames = %d, want default 3", params.RefFrames)
	}
}

func TestParamsFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ParamsFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("crf: [not, an, int]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParamsFromFile(bad); err == nil {
		t.Error("malformed yaml accepted")
	}

	out := filepath.Join(dir, "out.yaml")
	if err := os.WriteFile(out, []byte("crf: 99"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParamsFromFile(out); err == nil {
		t.Error("out-of-range crf accepted")
	}
}
