package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

type schemaProp struct {
	name   string
	schema *openapi3.Schema
}

// defineTool builds a tool definition whose parameters are an object schema.
func defineTool(name, description string, required []string, props ...schemaProp) domain.ToolDefinition {
	object := openapi3.NewObjectSchema()
	for _, prop := range props {
		object = object.WithProperty(prop.name, prop.schema)
	}
	if len(required) > 0 {
		object.Required = required
	}
	raw, err := json.Marshal(object)
	if err != nil {
		panic(fmt.Sprintf("marshal schema of tool %q: %v", name, err))
	}
	return domain.ToolDefinition{Name: name, Description: description, Parameters: raw}
}

func stringParam(name, description string, enum ...string) schemaProp {
	s := openapi3.NewStringSchema()
	s.Description = description
	if len(enum) > 0 {
		values := make([]any, 0, len(enum))
		for _, v := range enum {
			values = append(values, v)
		}
		s = s.WithEnum(values...)
	}
	return schemaProp{name: name, schema: s}
}

func numberParam(name, description string) schemaProp {
	s := openapi3.NewFloat64Schema()
	s.Description = description
	return schemaProp{name: name, schema: s}
}

func integerParam(name, description string) schemaProp {
	s := openapi3.NewIntegerSchema()
	s.Description = description
	return schemaProp{name: name, schema: s}
}

func boolParam(name, description string) schemaProp {
	s := openapi3.NewBoolSchema()
	s.Description = description
	return schemaProp{name: name, schema: s}
}

func stringListParam(name, description string) schemaProp {
	s := openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	s.Description = description
	return schemaProp{name: name, schema: s}
}

func objectParam(name, description string) schemaProp {
	s := openapi3.NewObjectSchema()
	s.Description = description
	return schemaProp{name: name, schema: s}
}
