package h265transport

import "testing"

func TestPreset_ParseRoundTrip(t *testing.T) {
	for p := PresetUltrafast; p <= PresetVeryslow; p++ {
		parsed, ok := ParsePreset(p.String())
		if !ok {
			t.Errorf("ParsePreset(%q) not recognized", p.String())
		}
		if parsed != p {
			t.Errorf("ParsePreset(%q) = %v, want %v", p.String(), parsed, p)
		}
	}

	if _, ok := ParsePreset("turbo"); ok {
		t.Error("ParsePreset accepted unknown name")
	}
	if got := Preset(99).String(); got != "unknown" {
		t.Errorf("Preset(99).String() = %q, want unknown", got)
	}
}

func TestProvider_String(t *testing.T) {
	tests := []struct {
		provider Provider
		want     string
	}{
		{ProviderAuto, "auto"},
		{ProviderX265, "x265"},
		{Provider(200), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.provider.String(); got != tt.want {
			t.Errorf("Provider(%d).String() = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestClockRate(t *testing.T) {
	if got := ClockRate(); got != 90000 {
		t.Errorf("ClockRate() = %d, want 90000", got)
	}
}

func TestErrorClasses(t *testing.T) {
	if !IsTransient(ErrEncoderBusy) {
		t.Error("ErrEncoderBusy must be transient")
	}
	for _, err := range []error{ErrInvalidState, ErrNoMemory, ErrConfiguration} {
		if !IsFatal(err) {
			t.Errorf("%v must be fatal", err)
		}
		if IsTransient(err) {
			t.Errorf("%v must not be transient", err)
		}
	}
	for _, err := range []error{ErrNoPacket, ErrEndOfStream, nil} {
		if IsFatal(err) {
			t.Errorf("%v must not be fatal", err)
		}
	}
}
