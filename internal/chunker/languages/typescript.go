package languages

import (
	"repograph/internal/chunker"

	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

func RegisterTypeScript(r *chunker.Registry) {
	r.Register("typescript", &chunker.LanguageSpec{
		Language: typescript.GetLanguage(),
		Definitions: map[string]string{
			"function_declaration":           "function",
			"generator_function_declaration": "function",
			"class_declaration":              "class",
			"method_definition":              "method",
			"interface_declaration":          "interface",
			"type_alias_declaration":         "type",
			"variable_declarator":            "function",
		},
		DecoratorKinds: map[string]bool{"decorator": true},
		CallKinds:      map[string]bool{"call_expression": true},
		ConstantKinds:  map[string]bool{"variable_declarator": true},
		Extensions:     []string{"ts", "tsx"},
	})
}
