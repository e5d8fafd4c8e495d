package h265transport

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// EncoderParams are the tunable encoder knobs. They feed EncoderConfig
// at configuration time and are validated once, at session construction.
// The zero value selects DefaultEncoderParams.
type EncoderParams struct {
	Preset     Preset // Speed/quality preset
	CRF        int    // Compression rate factor, 0-51
	GOPSize    int    // Key frame interval; 0 = twice the frame rate
	MaxBFrames int    // Backward-reference frame depth
	RefFrames  int    // Reference frames per P-frame
	Threads    int    // Encoder worker threads; 0 = auto
}

// DefaultEncoderParams returns the parameters tuned for realtime
// encoding: ultrafast preset and a mid-range compression factor as a
// compression/quality compromise.
func DefaultEncoderParams() EncoderParams {
	return EncoderParams{
		Preset:     PresetUltrafast,
		CRF:        35,
		GOPSize:    0, // derived: 2 * FPS
		MaxBFrames: 3,
		RefFrames:  3,
		Threads:    5,
	}
}

// Validate checks every knob against its legal range.
func (p EncoderParams) Validate() error {
	if p.Preset < PresetUltrafast || p.Preset > PresetVeryslow {
		return fmt.Errorf("invalid preset %d", int(p.Preset))
	}
	if p.CRF < 0 || p.CRF > 51 {
		return fmt.Errorf("crf %d out of range [0, 51]", p.CRF)
	}
	if p.GOPSize < 0 {
		return fmt.Errorf("gop %d must not be negative", p.GOPSize)
	}
	if p.MaxBFrames < 0 || p.MaxBFrames > 16 {
		return fmt.Errorf("bframes %d out of range [0, 16]", p.MaxBFrames)
	}
	if p.RefFrames < 1 || p.RefFrames > 16 {
		return fmt.Errorf("refs %d out of range [1, 16]", p.RefFrames)
	}
	if p.Threads < 0 || p.Threads > 64 {
		return fmt.Errorf("threads %d out of range [0, 64]", p.Threads)
	}
	return nil
}

// ParameterDefinition declares one externally visible parameter.
type ParameterDefinition struct {
	Name        string
	Default     any
	Description string
}

// EncoderParameters is the declared parameter schema of the transport.
// Every knob in EncoderParams is registered here so an external store
// can inspect and override it.
var EncoderParameters = []ParameterDefinition{
	{"preset", "ultrafast", "encoder speed/quality preset"},
	{"crf", 35, "compression rate factor, 0-51 (lower = higher quality)"},
	{"gop", 0, "key frame interval, 0 = twice the frame rate"},
	{"bframes", 3, "backward-reference frame depth"},
	{"refs", 3, "reference frames usable by P-frames"},
	{"threads", 5, "encoder worker threads, 0 = auto"},
}

// ParameterStore is the external parameter registration collaborator.
// Declare is idempotent: re-declaring an existing parameter returns the
// already-registered value instead of failing.
type ParameterStore interface {
	Declare(name string, defaultValue any) (any, error)
}

// ParameterName builds the fully scoped parameter name for a base topic,
// e.g. "camera/image_raw" -> "camera.image_raw.h265.crf".
func ParameterName(baseName, name string) string {
	base := strings.ReplaceAll(strings.Trim(baseName, "/"), "/", ".")
	if base == "" {
		return TransportFormat + "." + name
	}
	return base + "." + TransportFormat + "." + name
}

// DeclareParameters registers the full schema against the store and
// returns the effective encoder parameters, validated.
func DeclareParameters(store ParameterStore, baseName string) (EncoderParams, error) {
	params := DefaultEncoderParams()

	for _, def := range EncoderParameters {
		value, err := store.Declare(ParameterName(baseName, def.Name), def.Default)
		if err != nil {
			return EncoderParams{}, fmt.Errorf("declare %s: %w", def.Name, err)
		}
		if err := applyParameter(&params, def.Name, value); err != nil {
			return EncoderParams{}, err
		}
	}

	if err := params.Validate(); err != nil {
		return EncoderParams{}, err
	}
	return params, nil
}

func applyParameter(params *EncoderParams, name string, value any) error {
	switch name {
	case "preset":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("preset: expected string, got %T", value)
		}
		preset, ok := ParsePreset(s)
		if !ok {
			return fmt.Errorf("preset: unknown name %q", s)
		}
		params.Preset = preset
	case "crf", "gop", "bframes", "refs", "threads":
		n, err := intValue(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		switch name {
		case "crf":
			params.CRF = n
		case "gop":
			params.GOPSize = n
		case "bframes":
			params.MaxBFrames = n
		case "refs":
			params.RefFrames = n
		case "threads":
			params.Threads = n
		}
	default:
		return fmt.Errorf("unknown parameter %q", name)
	}
	return nil
}

func intValue(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

// MapStore is an in-memory ParameterStore for processes that have no
// external parameter registry.
type MapStore struct {
	mu     sync.Mutex
	values map[string]any
}

// NewMapStore creates a MapStore seeded with the given values.
func NewMapStore(values map[string]any) *MapStore {
	m := &MapStore{values: make(map[string]any, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Declare implements ParameterStore.
func (m *MapStore) Declare(name string, defaultValue any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.values[name]; ok {
		return v, nil
	}
	m.values[name] = defaultValue
	return defaultValue, nil
}

// paramsFile is the on-disk YAML shape of EncoderParams.
type paramsFile struct {
	Preset  *string `yaml:"preset"`
	CRF     *int    `yaml:"crf"`
	GOP     *int    `yaml:"gop"`
	BFrames *int    `yaml:"bframes"`
	Refs    *int    `yaml:"refs"`
	Threads *int    `yaml:"threads"`
}

// ParamsFromFile loads encoder parameters from a YAML file. Missing
// keys keep their defaults; the result is validated.
func ParamsFromFile(path string) (EncoderParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EncoderParams{}, fmt.Errorf("read params: %w", err)
	}
	return parseParams(data)
}

func parseParams(data []byte) (EncoderParams, error) {
	var file paramsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return EncoderParams{}, fmt.Errorf("parse params: %w", err)
	}

	params := DefaultEncoderParams()
	if file.Preset != nil {
		preset, ok := ParsePreset(*file.Preset)
		if !ok {
			return EncoderParams{}, fmt.Errorf("preset: unknown name %q", *file.Preset)
		}
		params.Preset = preset
	}
	if file.CRF != nil {
		params.CRF = *file.CRF
	}
	if file.GOP != nil {
		params.GOPSize = *file.GOP
	}
	if file.BFrames != nil {
		params.MaxBFrames = *file.BFrames
	}
	if file.Refs != nil {
		params.RefFrames = *file.Refs
	}
	if file.Threads != nil {
		params.Threads = *file.Threads
	}

	if err := params.Validate(); err != nil {
		return EncoderParams{}, err
	}
	return params, nil
}
