// Package registry maps step type names to their validators and encoders.
//
// A Registry is built once at process start (see RegisterCatalog) and passed
// to the builder and orchestrator. Names are write-once.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

// ValidateFunc checks a normalised config and may return a further normalised
// copy.
type ValidateFunc func(cfg domain.Config) (domain.Config, error)

// EncodeFunc turns a validated config into an instruction.
type EncodeFunc func(cfg domain.Config) (domain.Instruction, error)

// Definition describes one step type.
type Definition struct {
	Program  string
	Validate ValidateFunc
	Encode   EncodeFunc
}

type Registry struct {
	mu    sync.RWMutex
	types map[string]Definition
}

func New() *Registry {
	return &Registry{types: make(map[string]Definition)}
}

// Register associates name with def. Re-registering a name fails.
func (r *Registry) Register(name string, def Definition) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.Error{Kind: domain.KindInvalidStepConfig, Index: -1, Field: "name", Message: "step type name is required"}
	}
	if def.Encode == nil {
		def.Encode = defaultEncoder(name, def.Program, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return domain.Errorf(domain.KindDuplicateStepType, "step type %q already registered", name)
	}
	r.types[name] = def
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns registered step types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate returns the normalised config for a step of type name.
func (r *Registry) Validate(name string, cfg domain.Config) (domain.Config, error) {
	def, ok := r.lookup(name)
	if !ok {
		return nil, domain.Errorf(domain.KindUnknownStepType, "step type %q is not registered", name)
	}
	normalized, err := Normalize(cfg)
	if err != nil {
		return nil, err
	}
	if def.Validate == nil {
		return normalized, nil
	}
	out, err := def.Validate(normalized)
	if err != nil {
		return nil, asConfigError(err)
	}
	if out == nil {
		out = normalized
	}
	return out, nil
}

// Encode produces the instruction for an already validated step.
func (r *Registry) Encode(name string, cfg domain.Config) (domain.Instruction, error) {
	def, ok := r.lookup(name)
	if !ok {
		return domain.Instruction{}, domain.Errorf(domain.KindUnknownStepType, "step type %q is not registered", name)
	}
	ins, err := def.Encode(cfg)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return ins, nil
}

func (r *Registry) lookup(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[strings.TrimSpace(name)]
	return def, ok
}

func asConfigError(err error) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return derr
	}
	return &domain.Error{Kind: domain.KindInvalidStepConfig, Index: -1, Err: err}
}

// Normalize deep-copies cfg, converting every number to json.Number so that
// values compare and persist identically regardless of their Go origin.
func Normalize(cfg domain.Config) (domain.Config, error) {
	out := make(domain.Config, len(cfg))
	for k, v := range cfg {
		nv, err := normalizeValue(v, k)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

// NormalizeScalar canonicalises a condition value.
func NormalizeScalar(v any) (any, error) {
	if !domain.IsScalar(v) {
		return nil, domain.Errorf(domain.KindInvalidCondition, "value must be a string, number or bool, got %T", v)
	}
	nv, err := normalizeValue(v, "value")
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindInvalidCondition, Index: -1, Field: "value", Err: err}
	}
	return nv, nil
}

func normalizeValue(v any, path string) (any, error) {
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case json.Number:
		// Stored in canonical decimal form: 1e3 and 1000.0 both become 1000.
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return nil, fieldError(path, "invalid number %q", t)
		}
		return json.Number(d.String()), nil
	case int:
		return json.Number(strconv.FormatInt(int64(t), 10)), nil
	case int8:
		return json.Number(strconv.FormatInt(int64(t), 10)), nil
	case int16:
		return json.Number(strconv.FormatInt(int64(t), 10)), nil
	case int32:
		return json.Number(strconv.FormatInt(int64(t), 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(t, 10)), nil
	case uint:
		return json.Number(strconv.FormatUint(uint64(t), 10)), nil
	case uint8:
		return json.Number(strconv.FormatUint(uint64(t), 10)), nil
	case uint16:
		return json.Number(strconv.FormatUint(uint64(t), 10)), nil
	case uint32:
		return json.Number(strconv.FormatUint(uint64(t), 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(t, 10)), nil
	case float32:
		return floatNumber(float64(t), path)
	case float64:
		return floatNumber(t, path)
	case domain.Config:
		return normalizeMap(t, path)
	case map[string]any:
		return normalizeMap(t, path)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalizeValue(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out, nil
	default:
		return nil, fieldError(path, "unsupported value type %T", v)
	}
}

func normalizeMap(in map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		nv, err := normalizeValue(v, path+"."+k)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func floatNumber(f float64, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fieldError(path, "number must be finite")
	}
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

func fieldError(field, format string, args ...any) error {
	return &domain.Error{
		Kind:    domain.KindInvalidStepConfig,
		Index:   -1,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
