package importer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"signet/internal/account"
)

//go:embed export.schema.json
var exportSchema []byte

const exportSchemaURL = "https://signet.local/schema/export.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(exportSchemaURL, bytes.NewReader(exportSchema)); err != nil {
		return nil, err
	}
	return c.Compile(exportSchemaURL)
})

// entriesDocument is the structured export shape.
type entriesDocument struct {
	Entries []struct {
		Fields []account.GenericField `json:"fields" yaml:"fields"`
	} `json:"entries" yaml:"entries"`
}

func parseJSON(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile export schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	if _, ok := doc.([]any); ok {
		return decodeFlatJSON(data)
	}

	var ed entriesDocument
	if err := json.Unmarshal(data, &ed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	records := make([]Record, len(ed.Entries))
	for i, e := range ed.Entries {
		records[i] = Record{Index: i, Fields: e.Fields}
	}
	return records, nil
}

// decodeFlatJSON walks a list of flat objects token by token so that keys
// keep their file order.
func decodeFlatJSON(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var records []Record
	for idx := 0; dec.More(); idx++ {
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var fields []account.GenericField
		for dec.More() {
			key, err := dec.Token()
			if err != nil {
				return nil, err
			}
			val, err := dec.Token()
			if err != nil {
				return nil, err
			}
			name, _ := key.(string)
			switch v := val.(type) {
			case string:
				fields = append(fields, account.GenericField{Name: name, Value: v})
			case json.Number:
				fields = append(fields, account.GenericField{Name: name, Value: v.String()})
			case bool:
				fields = append(fields, account.GenericField{Name: name, Value: strconv.FormatBool(v)})
			case nil:
			default:
				return nil, fmt.Errorf("%w: record %d field %q is not a scalar", ErrInvalidDocument, idx, name)
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		records = append(records, Record{Index: idx, Fields: fields})
	}
	return records, nil
}
