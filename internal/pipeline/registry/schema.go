package registry

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pipelink-labs/pipelink-go/internal/domain"
)

// SchemaValidator compiles a JSON Schema into a ValidateFunc. The first
// failing field is reported on the returned error.
func SchemaValidator(schema map[string]any) (ValidateFunc, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return func(cfg domain.Config) (domain.Config, error) {
		doc := map[string]any(cfg)
		if doc == nil {
			doc = map[string]any{}
		}
		res, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
		if err != nil {
			return nil, &domain.Error{Kind: domain.KindInvalidStepConfig, Index: -1, Err: err}
		}
		if res.Valid() {
			return cfg, nil
		}
		issues := res.Errors()
		first := issues[0]
		return nil, &domain.Error{
			Kind:    domain.KindInvalidStepConfig,
			Index:   -1,
			Field:   resultField(first),
			Message: first.Description(),
		}
	}, nil
}

// rootField is how gojsonschema names the document root.
const rootField = "(root)"

func resultField(re gojsonschema.ResultError) string {
	field := re.Field()
	if re.Type() == "required" || re.Type() == "additional_property_not_allowed" {
		if prop, ok := re.Details()["property"].(string); ok && prop != "" {
			if field == "" || field == rootField {
				return prop
			}
			return field + "." + prop
		}
	}
	if field == rootField {
		return ""
	}
	return strings.TrimPrefix(field, rootField+".")
}
