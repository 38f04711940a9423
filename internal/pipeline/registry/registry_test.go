package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

func newDefaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewWithCatalog(DefaultCatalog())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	reg := New()
	if err := reg.Register("noop", Definition{Program: "p"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Register("noop", Definition{Program: "p"})
	if !errors.Is(err, domain.ErrDuplicateStepType) {
		t.Fatalf("expected DuplicateStepType, got %v", err)
	}
	if err := reg.Register("  ", Definition{}); !errors.Is(err, domain.ErrInvalidStepConfig) {
		t.Fatalf("expected empty name rejection, got %v", err)
	}
}

func TestValidateUnknownStepType(t *testing.T) {
	reg := newDefaultRegistry(t)
	_, err := reg.Validate("unknown_type", domain.Config{})
	if !errors.Is(err, domain.ErrUnknownStepType) {
		t.Fatalf("expected UnknownStepType, got %v", err)
	}
}

func TestValidateNormalizesNumbers(t *testing.T) {
	reg := newDefaultRegistry(t)
	cfg, err := reg.Validate("swap", domain.Config{"tokenA": "SOL", "tokenB": "USDC", "amount": 1000000})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got, ok := cfg["amount"].(json.Number); !ok || got.String() != "1000000" {
		t.Fatalf("expected json.Number amount, got %#v", cfg["amount"])
	}

	cfg, err = reg.Validate("swap", domain.Config{"tokenA": "SOL", "tokenB": "USDC", "amount": float64(2500)})
	if err != nil {
		t.Fatalf("validate float: %v", err)
	}
	if cfg["amount"].(json.Number).String() != "2500" {
		t.Fatalf("expected canonical integer form, got %v", cfg["amount"])
	}
}

func TestNormalizeCanonicalizesNumberText(t *testing.T) {
	reg := newDefaultRegistry(t)
	cfg, err := reg.Validate("swap", domain.Config{"tokenA": "SOL", "tokenB": "USDC", "amount": json.Number("1e3")})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg["amount"] != json.Number("1000") {
		t.Fatalf("expected 1000, got %#v", cfg["amount"])
	}

	cases := map[string]string{
		"1e3":                  "1000",
		"1000.0":               "1000",
		"0.50":                 "0.5",
		"-2.5E-2":              "-0.025",
		"18446744073709551615": "18446744073709551615",
	}
	for in, want := range cases {
		got, err := NormalizeScalar(json.Number(in))
		if err != nil {
			t.Fatalf("normalize %s: %v", in, err)
		}
		if got != json.Number(want) {
			t.Fatalf("normalize %s: expected %s, got %v", in, want, got)
		}
	}
	if _, err := NormalizeScalar(json.Number("12abc")); !errors.Is(err, domain.ErrInvalidCondition) {
		t.Fatalf("expected InvalidCondition for malformed number, got %v", err)
	}
}

func TestValidateReportsOffendingField(t *testing.T) {
	reg := newDefaultRegistry(t)
	cases := []struct {
		name  string
		cfg   domain.Config
		field string
	}{
		{"missing amount", domain.Config{"tokenA": "SOL", "tokenB": "USDC"}, "amount"},
		{"wrong type", domain.Config{"tokenA": "SOL", "tokenB": "USDC", "amount": "lots"}, "amount"},
		{"extra field", domain.Config{"tokenA": "SOL", "tokenB": "USDC", "amount": 1, "bogus": true}, "bogus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Validate("swap", tc.cfg)
			derr, ok := domain.AsError(err)
			if !ok || derr.Kind != domain.KindInvalidStepConfig {
				t.Fatalf("expected InvalidStepConfig, got %v", err)
			}
			if derr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, derr.Field, err)
			}
		})
	}
}

func TestValidateRejectsNonFiniteNumbers(t *testing.T) {
	reg := New()
	if err := reg.Register("any", Definition{Program: "p"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	var zero float64
	_, err := reg.Validate("any", domain.Config{"x": 1 / zero})
	derr, ok := domain.AsError(err)
	if !ok || derr.Kind != domain.KindInvalidStepConfig || derr.Field != "x" {
		t.Fatalf("expected InvalidStepConfig on x, got %v", err)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	reg := newDefaultRegistry(t)
	cfg, err := reg.Validate("swap", domain.Config{"tokenA": "SOL", "tokenB": "USDC", "amount": 1000000})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	first, err := reg.Encode("swap", cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := reg.Encode("swap", cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(first.Data) != string(second.Data) {
		t.Fatalf("expected identical data, got %s vs %s", first.Data, second.Data)
	}
	want := `{"step":"swap","config":{"amount":1000000,"tokenA":"SOL","tokenB":"USDC"}}`
	if string(first.Data) != want {
		t.Fatalf("unexpected data: %s", first.Data)
	}
	if first.Program != "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4" {
		t.Fatalf("unexpected program %q", first.Program)
	}
	if len(first.Accounts) != 2 || first.Accounts[0].Key != "SOL" || first.Accounts[1].Key != "USDC" {
		t.Fatalf("unexpected accounts: %+v", first.Accounts)
	}
}

func TestNamesSorted(t *testing.T) {
	reg := newDefaultRegistry(t)
	names := reg.Names()
	want := []string{"memo", "stake", "swap", "trade", "transfer", "unstake"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestLoadCatalogRejectsMissingProgram(t *testing.T) {
	_, err := LoadCatalog([]byte("stepTypes:\n  - name: x\n"))
	if err == nil {
		t.Fatalf("expected error for missing program")
	}
}
