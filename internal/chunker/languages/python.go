package languages

import (
	"repograph/internal/chunker"

	"github.com/smacker/go-tree-sitter/python"
)

func RegisterPython(r *chunker.Registry) {
	r.Register("python", &chunker.LanguageSpec{
		Language: python.GetLanguage(),
		Definitions: map[string]string{
			"function_definition": "function",
			"class_definition":    "class",
		},
		Wrappers:       map[string]bool{"decorated_definition": true},
		DecoratorKinds: map[string]bool{"decorator": true},
		CallKinds:      map[string]bool{"call": true},
		ConstantKinds:  map[string]bool{"assignment": true},
		Extensions:     []string{"py", "pyi"},
	})
}
