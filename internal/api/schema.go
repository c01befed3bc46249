package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"boqmatch/internal/services"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaCatalogUpsert = "catalog_upsert.json"
	schemaMatch         = "match.json"
	schemaSubmitJob     = "submit_job.json"
	schemaManualMatch   = "manual_match.json"
	schemaRematch       = "rematch.json"
)

var requestSchemas = mustCompileSchemas(schemaCatalogUpsert, schemaMatch, schemaSubmitJob, schemaManualMatch, schemaRematch)

func mustCompileSchemas(names ...string) map[string]*jsonschema.Schema {
	compiled, err := compileSchemas(names...)
	if err != nil {
		panic(err)
	}
	return compiled
}

func compileSchemas(names ...string) (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = schema
	}
	return out, nil
}

// decodeValidated checks body against the named schema and then decodes it
// into dst.
func decodeValidated(body []byte, schemaName string, dst any) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return services.NewValidationError("body", "malformed JSON: "+err.Error())
	}
	if err := requestSchemas[schemaName].Validate(doc); err != nil {
		return services.NewValidationError("body", describeSchemaError(err))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return services.NewValidationError("body", err.Error())
	}
	return nil
}

// describeSchemaError reports the deepest failure, which names the offending
// field instead of the schema root.
func describeSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	location := strings.TrimPrefix(ve.InstanceLocation, "/")
	if location == "" {
		return ve.Message
	}
	return strings.ReplaceAll(location, "/", ".") + ": " + ve.Message
}
