package languages

import (
	"repograph/internal/chunker"

	"github.com/smacker/go-tree-sitter/javascript"
)

func RegisterJavaScript(r *chunker.Registry) {
	r.Register("javascript", &chunker.LanguageSpec{
		Language: javascript.GetLanguage(),
		Definitions: map[string]string{
			"function_declaration":           "function",
			"generator_function_declaration": "function",
			"class_declaration":              "class",
			"method_definition":              "method",
			// variable_declarator only counts when its value is an
			// arrow function or function expression (extractor checks).
			"variable_declarator": "function",
		},
		DecoratorKinds: map[string]bool{"decorator": true},
		CallKinds:      map[string]bool{"call_expression": true},
		ConstantKinds:  map[string]bool{"variable_declarator": true},
		Extensions:     []string{"js", "jsx", "mjs", "cjs"},
	})
}
