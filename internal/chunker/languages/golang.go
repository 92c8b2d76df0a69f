package languages

import (
	"repograph/internal/chunker"

	"github.com/smacker/go-tree-sitter/golang"
)

func RegisterGo(r *chunker.Registry) {
	r.Register("go", &chunker.LanguageSpec{
		Language: golang.GetLanguage(),
		Definitions: map[string]string{
			"function_declaration": "function",
			"method_declaration":   "method",
			"type_spec":            "type",
		},
		CallKinds:     map[string]bool{"call_expression": true},
		ConstantKinds: map[string]bool{"const_spec": true},
		Extensions:    []string{"go"},
	})
}
