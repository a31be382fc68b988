package registry

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

//go:embed catalog/*.yaml
var builtinCatalog embed.FS

// cardDocument accepts the legacy "sympy_formulas" key as an alias of "steps".
type cardDocument struct {
	contracts.FormulaCard
	SympyFormulas []contracts.Formula `json:"sympy_formulas,omitempty"`
}

// DecodeCards parses one card file. A file holds a single card or a list.
// The name's extension selects YAML (.yaml, .yml) or JSON.
func DecodeCards(name string, data []byte) ([]*contracts.FormulaCard, error) {
	var doc any
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: parse yaml: %w", name, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: parse json: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported card file extension", name)
	}

	var docs []any
	if list, ok := doc.([]any); ok {
		docs = list
	} else {
		docs = []any{doc}
	}

	cards := make([]*contracts.FormulaCard, 0, len(docs))
	for i, d := range docs {
		// Round-trip through JSON so YAML and JSON share one schema and decoder.
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		var normalized any
		if err := json.Unmarshal(raw, &normalized); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}
		if err := ValidateDocument(normalized); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
		}

		var cd cardDocument
		if err := json.Unmarshal(raw, &cd); err != nil {
			return nil, fmt.Errorf("%s[%d]: decode card: %w", name, i, err)
		}
		card := cd.FormulaCard
		if len(card.Steps) == 0 {
			card.Steps = cd.SympyFormulas
		}
		cards = append(cards, &card)
	}
	return cards, nil
}

// LoadFS reads every .json, .yaml and .yml file under fsys in lexical path
// order, which fixes registration order.
func LoadFS(fsys fs.FS) ([]*contracts.FormulaCard, error) {
	var cards []*contracts.FormulaCard
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(path.Ext(p)) {
		case ".json", ".yaml", ".yml":
		default:
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		found, err := DecodeCards(p, data)
		if err != nil {
			return err
		}
		cards = append(cards, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// LoadDir loads cards from a directory on disk.
func LoadDir(dir string) ([]*contracts.FormulaCard, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("card directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("card directory: %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir))
}

// BuiltinCards returns the embedded catalog.
func BuiltinCards() ([]*contracts.FormulaCard, error) {
	sub, err := fs.Sub(builtinCatalog, "catalog")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// Builtin builds a registry from the embedded catalog.
func Builtin() (*Registry, error) {
	cards, err := BuiltinCards()
	if err != nil {
		return nil, fmt.Errorf("load builtin catalog: %w", err)
	}
	return NewBuilder().Add(cards...).Build()
}
