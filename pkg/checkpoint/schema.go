package checkpoint

import (
	_ "embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed checkpoint.schema.json
var schemaJSON []byte

// CheckDocument validates raw checkpoint bytes against the document schema
// and returns one message per violation. An empty slice means the document
// is structurally sound; it may still be rejected by Validate for age or
// config drift. An error is returned only when data is not JSON at all.
func CheckDocument(data []byte) ([]string, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("check checkpoint document: %w", err)
	}

	problems := make([]string, 0, len(result.Errors()))

	for _, resultErr := range result.Errors() {
		problems = append(problems, resultErr.String())
	}

	return problems, nil
}
