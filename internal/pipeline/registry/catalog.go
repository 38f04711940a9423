package registry

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the YAML description of a set of step types.
type Catalog struct {
	StepTypes []CatalogEntry `yaml:"stepTypes"`
}

type CatalogEntry struct {
	Name     string         `yaml:"name"`
	Program  string         `yaml:"program"`
	Accounts []string       `yaml:"accounts"`
	Schema   map[string]any `yaml:"schema"`
}

// LoadCatalog parses a catalog document.
func LoadCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.StepTypes) == 0 {
		return Catalog{}, errors.New("catalog declares no step types")
	}
	for i, entry := range c.StepTypes {
		if strings.TrimSpace(entry.Name) == "" {
			return Catalog{}, fmt.Errorf("stepTypes[%d] name is required", i)
		}
		if strings.TrimSpace(entry.Program) == "" {
			return Catalog{}, fmt.Errorf("stepTypes[%s] program is required", entry.Name)
		}
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() Catalog {
	c, err := LoadCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalogFile reads a catalog from path, or the embedded catalog when path
// is empty.
func LoadCatalogFile(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return LoadCatalog(raw)
}

// RegisterCatalog registers every entry of c on r.
func RegisterCatalog(r *Registry, c Catalog) error {
	for _, entry := range c.StepTypes {
		validate, err := SchemaValidator(entry.Schema)
		if err != nil {
			return fmt.Errorf("step type %s: %w", entry.Name, err)
		}
		err = r.Register(entry.Name, Definition{
			Program:  entry.Program,
			Validate: validate,
			Encode:   defaultEncoder(entry.Name, entry.Program, entry.Accounts),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// NewWithCatalog returns a registry populated from c.
func NewWithCatalog(c Catalog) (*Registry, error) {
	r := New()
	if err := RegisterCatalog(r, c); err != nil {
		return nil, err
	}
	return r, nil
}

type instructionData struct {
	Step   string        `json:"step"`
	Config domain.Config `json:"config"`
}

// defaultEncoder emits the step's config as canonical JSON instruction data.
// Accounts are taken from the listed config keys, in order.
func defaultEncoder(name, program string, accountKeys []string) EncodeFunc {
	return func(cfg domain.Config) (domain.Instruction, error) {
		accounts := make([]domain.AccountMeta, 0, len(accountKeys))
		for _, key := range accountKeys {
			v, ok := cfg[key].(string)
			if !ok || strings.TrimSpace(v) == "" {
				continue
			}
			accounts = append(accounts, domain.AccountMeta{Key: v, Writable: true})
		}
		data, err := json.Marshal(instructionData{Step: name, Config: cfg})
		if err != nil {
			return domain.Instruction{}, fmt.Errorf("marshal instruction data: %w", err)
		}
		return domain.Instruction{
			Program:  program,
			Accounts: accounts,
			Data:     data,
		}, nil
	}
}
