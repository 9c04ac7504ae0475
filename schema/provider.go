package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider supplies the model of a tracking scope. It is consulted once
// per scope lifetime.
type Provider interface {
	Load(ctx context.Context) (*Model, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(context.Context) (*Model, error)

// Load calls f.
func (f ProviderFunc) Load(ctx context.Context) (*Model, error) { return f(ctx) }

// Static returns a Provider serving an already built model.
func Static(m *Model) Provider {
	return ProviderFunc(func(context.Context) (*Model, error) {
		if m == nil {
			return nil, errors.New("schema: nil model")
		}
		return m, nil
	})
}

// File returns a Provider reading a YAML model file.
func File(path string) Provider {
	return ProviderFunc(func(ctx context.Context) (*Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("schema: open model: %w", err)
		}
		defer f.Close()
		m, err := Decode(f)
		if err != nil {
			return nil, fmt.Errorf("schema: %s: %w", path, err)
		}
		return m, nil
	})
}

type (
	fileModel struct {
		Entities []fileEntity `yaml:"entities"`
	}
	fileEntity struct {
		Name        string           `yaml:"name"`
		Table       string           `yaml:"table"`
		Properties  []fileProperty   `yaml:"properties"`
		ForeignKeys []fileForeignKey `yaml:"foreign_keys"`
	}
	fileProperty struct {
		Name             string `yaml:"name"`
		Column           string `yaml:"column"`
		Type             string `yaml:"type"`
		Key              bool   `yaml:"key"`
		Strategy         string `yaml:"strategy"`
		Sentinel         any    `yaml:"sentinel"`
		Sequence         string `yaml:"sequence"`
		Generated        bool   `yaml:"generated"`
		Generator        string `yaml:"generator"`
		ConcurrencyToken bool   `yaml:"concurrency_token"`
		RowVersion       bool   `yaml:"row_version"`
		Nullable         bool   `yaml:"nullable"`
		CaseInsensitive  bool   `yaml:"case_insensitive"`
	}
	fileForeignKey struct {
		Name         string   `yaml:"name"`
		Principal    string   `yaml:"principal"`
		Properties   []string `yaml:"properties"`
		PrincipalKey []string `yaml:"principal_key"`
		Required     bool     `yaml:"required"`
		Navigation   string   `yaml:"navigation"`
		Inverse      string   `yaml:"inverse"`
	}
)

// Decode reads a YAML model.
func Decode(r io.Reader) (*Model, error) {
	var fm fileModel
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	types := make([]*EntityType, 0, len(fm.Entities))
	for _, fe := range fm.Entities {
		t := &EntityType{Name: fe.Name, Table: fe.Table}
		for _, fp := range fe.Properties {
			p, err := fp.property()
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", fe.Name, fp.Name, err)
			}
			t.Properties = append(t.Properties, p)
		}
		for _, ff := range fe.ForeignKeys {
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
				Name:         ff.Name,
				Principal:    ff.Principal,
				Properties:   ff.Properties,
				PrincipalKey: ff.PrincipalKey,
				Required:     ff.Required,
				Navigation:   ff.Navigation,
				Inverse:      ff.Inverse,
			})
		}
		types = append(types, t)
	}
	return NewModel(types...)
}

func (fp fileProperty) property() (*Property, error) {
	typ, err := ParseType(fp.Type)
	if err != nil {
		return nil, err
	}
	strategy, err := ParseKeyStrategy(fp.Strategy)
	if err != nil {
		return nil, err
	}
	p := &Property{
		Name:             fp.Name,
		Column:           fp.Column,
		Type:             typ,
		Key:              fp.Key,
		Strategy:         strategy,
		Sentinel:         fp.Sentinel,
		Sequence:         fp.Sequence,
		Generated:        fp.Generated,
		ConcurrencyToken: fp.ConcurrencyToken || fp.RowVersion,
		StoreComputed:    fp.RowVersion,
		Nullable:         fp.Nullable || fp.RowVersion,
		CaseInsensitive:  fp.CaseInsensitive,
	}
	switch fp.Generator {
	case "":
	case "uuid":
		p.Generator = UUIDGenerator
		p.Generated = true
	default:
		return nil, fmt.Errorf("unknown generator %q", fp.Generator)
	}
	return p, nil
}
