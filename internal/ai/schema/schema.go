// Package schema validates model output against the embedded JSON schemas.
package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("schema: document does not match schema")

var (
	//go:embed setup.schema.json
	setupSchemaJSON string
	//go:embed evaluation.schema.json
	evaluationSchemaJSON string
)

var printer = message.NewPrinter(language.English)

var (
	setupSchema      = mustCompile(setupSchemaJSON, "setup.schema.json")
	evaluationSchema = mustCompile(evaluationSchemaJSON, "evaluation.schema.json")
)

func mustCompile(raw, name string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// ValidateSetup checks an interview setup document.
func ValidateSetup(data []byte) error {
	return validate(setupSchema, data)
}

// ValidateEvaluation checks an evaluation report document.
func ValidateEvaluation(data []byte) error {
	return validate(evaluationSchema, data)
}

func validate(sch *jsonschema.Schema, data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var problems []string
	collect(ve, &problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

func collect(ve *jsonschema.ValidationError, problems *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*problems = append(*problems, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(printer)))
		return
	}
	for _, c := range ve.Causes {
		collect(c, problems)
	}
}
