package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/models"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// yamlField is one field entry of a fields.yaml schema file.
//
//	Account:
//	  Name: {type: string, required: true}
//	  ParentId: {kind: reference, references: Account}
//	  Industry: {kind: picklist, choices: [Technology, Other]}
type yamlField struct {
	Kind       string   `yaml:"kind"`
	Type       string   `yaml:"type"`
	References string   `yaml:"references"`
	Required   *bool    `yaml:"required"`
	Choices    []string `yaml:"choices"`
	MaxLength  int      `yaml:"max_length"`
}

// YAMLSchemaProvider reads every record type's fields from a single YAML file.
// The file is parsed once, on first use.
type YAMLSchemaProvider struct {
	path   string
	logger *log.Logger

	once    sync.Once
	types   map[string]models.FieldSet
	loadErr error
}

// NewYAMLSchemaProvider creates a provider for the file at path.
func NewYAMLSchemaProvider(path string, logger *log.Logger) *YAMLSchemaProvider {
	if logger == nil {
		logger = log.Default()
	}
	return &YAMLSchemaProvider{path: path, logger: logger}
}

// ParseYAMLSchema parses a fields.yaml document.
func ParseYAMLSchema(r io.Reader, logger *log.Logger) (map[string]models.FieldSet, error) {
	var doc map[string]map[string]yamlField
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	types := make(map[string]models.FieldSet, len(doc))
	for recordType, fields := range doc {
		fs := make(models.FieldSet, len(fields))
		for name, f := range fields {
			spec := models.FieldSpec{
				Name:            name,
				Kind:            models.ParseFieldKind(f.Kind),
				ReferenceTarget: f.References,
				DataType:        strings.ToLower(f.Type),
				Choices:         f.Choices,
				MaxLength:       f.MaxLength,
			}
			if f.Kind == "" {
				spec.Kind = kindFromType(f.Type, f.References)
			}
			if f.Required == nil {
				if logger != nil {
					logger.Debug("nillability unknown, treating as optional", "type", recordType, "field", name)
				}
			} else {
				spec.Required = *f.Required
			}
			fs[name] = spec
		}
		types[recordType] = fs
	}
	return types, nil
}

func (p *YAMLSchemaProvider) load() {
	f, err := os.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.loadErr = fmt.Errorf("%w: %s", shared.ErrSchemaNotFound, p.path)
		} else {
			p.loadErr = err
		}
		return
	}
	defer f.Close()
	p.types, p.loadErr = ParseYAMLSchema(f, p.logger)
}

// LoadFields returns the fields of recordType. A type missing from the file has no insertable fields.
func (p *YAMLSchemaProvider) LoadFields(recordType string) (models.FieldSet, error) {
	p.once.Do(p.load)
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if fs, ok := p.types[recordType]; ok {
		return fs, nil
	}
	return models.FieldSet{}, nil
}

// CSV schema columns, as written by a describe export.
const (
	colFieldName   = "Field Name"
	colFieldType   = "Field Type"
	colReferenceTo = "Reference To"
	colNillable    = "Nillable"
	colChoices     = "Picklist Values"
	colLength      = "Length"
)

// CSVSchemaProvider reads one "<type>Fields.csv" file per record type from a directory,
// e.g. fieldData/accountFields.csv.
type CSVSchemaProvider struct {
	dir    string
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]models.FieldSet
}

// NewCSVSchemaProvider creates a provider rooted at dir.
func NewCSVSchemaProvider(dir string, logger *log.Logger) *CSVSchemaProvider {
	if logger == nil {
		logger = log.Default()
	}
	return &CSVSchemaProvider{dir: dir, logger: logger, cache: map[string]models.FieldSet{}}
}

// LoadFields returns the fields of recordType. A missing file yields an empty set.
func (p *CSVSchemaProvider) LoadFields(recordType string) (models.FieldSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fs, ok := p.cache[recordType]; ok {
		return fs, nil
	}

	path := filepath.Join(p.dir, strings.ToLower(recordType)+"Fields.csv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		p.logger.Debug("no schema file", "type", recordType, "path", path)
		p.cache[recordType] = models.FieldSet{}
		return p.cache[recordType], nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fs, err := ParseCSVSchema(f, recordType, p.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.cache[recordType] = fs
	return fs, nil
}

// ParseCSVSchema parses a describe export with at least the Field Name column.
func ParseCSVSchema(r io.Reader, recordType string, logger *log.Logger) (models.FieldSet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return models.FieldSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	if _, ok := cols[colFieldName]; !ok {
		return nil, fmt.Errorf("%w: missing %q column", shared.ErrInvalidInput, colFieldName)
	}

	get := func(row []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	fs := models.FieldSet{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}

		name := get(row, colFieldName)
		if name == "" {
			continue
		}
		typ := get(row, colFieldType)
		ref := get(row, colReferenceTo)
		spec := models.FieldSpec{
			Name:            name,
			Kind:            kindFromType(typ, ref),
			ReferenceTarget: ref,
			DataType:        strings.ToLower(typ),
		}

		switch nillable := strings.ToLower(get(row, colNillable)); nillable {
		case "false":
			spec.Required = true
		case "true":
		default:
			if logger != nil {
				logger.Debug("nillability unknown, treating as optional", "type", recordType, "field", name)
			}
		}

		if choices := get(row, colChoices); choices != "" {
			for _, c := range strings.Split(choices, ";") {
				if c = strings.TrimSpace(c); c != "" {
					spec.Choices = append(spec.Choices, c)
				}
			}
		}
		if n, err := strconv.Atoi(get(row, colLength)); err == nil && n > 0 {
			spec.MaxLength = n
		}
		fs[name] = spec
	}
	return fs, nil
}

// kindFromType derives a field kind from a store data type.
func kindFromType(typ, ref string) models.FieldKind {
	switch strings.ToLower(typ) {
	case "reference":
		return models.FieldReference
	case "picklist":
		return models.FieldChoice
	case "multipicklist":
		return models.FieldMultiChoice
	}
	if ref != "" {
		return models.FieldReference
	}
	return models.FieldScalar
}
