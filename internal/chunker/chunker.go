package chunker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	sitter "github.com/smacker/go-tree-sitter"
)

// Chunk is a semantic code unit extracted from a source file. It is the
// unit of embedding and retrieval.
type Chunk struct {
	ID         string
	File       string // slash-separated path relative to the repo root
	Name       string
	Kind       string // function, method, class, type, interface
	Language   string
	StartLine  int
	EndLine    int
	Content    string
	Calls      []string // final identifiers of call targets in the body
	Decorators []string
	IsModel    bool // class inherits from a configured data-model base
	Part       int  // 1-based fragment index when split; 0 otherwise
	Parts      int  // total fragments of the original unit; 0 otherwise
}

// Outline is the lightweight structural summary of one file, kept in the
// relational store's structural index.
type Outline struct {
	Language  string   `json:"language"`
	Functions []string `json:"functions"`
	Classes   []string `json:"classes"`
	Constants []string `json:"constants"`
}

// Extractor parses source files with tree-sitter and extracts chunks.
type Extractor struct {
	registry   *Registry
	splitter   *Splitter
	modelBases []*regexp.Regexp
}

// NewExtractor creates an extractor. modelBases are class names that mark a
// class as a data model; they are matched against superclass text on word
// boundaries, so a rule for "Model" does not match "DatabaseModel".
func NewExtractor(r *Registry, s *Splitter, modelBases []string) *Extractor {
	e := &Extractor{registry: r, splitter: s}
	for _, base := range modelBases {
		e.modelBases = append(e.modelBases, regexp.MustCompile(`\b`+regexp.QuoteMeta(base)+`\b`))
	}
	return e
}

// Extract parses the source and returns chunks plus the file outline.
// If no grammar is registered for the file, both results are nil.
func (e *Extractor) Extract(path string, src []byte) ([]Chunk, *Outline, error) {
	spec, lang := e.registry.Lookup(path)
	if spec == nil {
		return nil, nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	w := &fileWalk{
		extractor: e,
		spec:      spec,
		path:      path,
		lang:      lang,
		src:       src,
		outline:   &Outline{Language: lang},
	}
	w.walk(tree.RootNode(), false)

	// Enforce the token budget last, so calls and decorators are computed
	// on the whole unit before it is windowed.
	var out []Chunk
	for _, c := range w.chunks {
		out = append(out, e.splitter.Split(c)...)
	}
	return out, w.outline, nil
}

// fileWalk carries per-file extraction state.
type fileWalk struct {
	extractor *Extractor
	spec      *LanguageSpec
	path      string
	lang      string
	src       []byte
	chunks    []Chunk
	outline   *Outline
}

// walk visits the tree top-down. inClass tracks whether we are inside a
// class body, which turns plain functions into methods.
func (w *fileWalk) walk(node *sitter.Node, inClass bool) {
	if node == nil {
		return
	}

	kind := node.Type()

	// Attached-declaration wrappers (python decorated_definition): emit the
	// inner definition once, with decorators read off the wrapper. Never
	// emit the wrapper itself — that would double-count the unit.
	if w.spec.Wrappers[kind] {
		var decorators []string
		var inner *sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if w.spec.DecoratorKinds[child.Type()] {
				decorators = append(decorators, decoratorText(child, w.src))
			} else if _, ok := w.spec.Definitions[child.Type()]; ok {
				inner = child
			}
		}
		if inner != nil {
			w.emit(inner, inClass, decorators)
		}
		return
	}

	if _, ok := w.spec.Definitions[kind]; ok {
		// variable_declarator is both a potential function binding and a
		// potential constant; only the function case is a definition.
		if kind != "variable_declarator" || bindsFunction(node) {
			// Decorators can also appear as preceding siblings (typescript
			// class members).
			w.emit(node, inClass, precedingDecorators(node, w.spec, w.src))
			return
		}
	}

	if w.spec.ConstantKinds[kind] {
		if name := w.constantName(node); name != "" {
			w.outline.Constants = append(w.outline.Constants, name)
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i), inClass)
	}
}

// emit records a chunk for a definition node and recurses into its body for
// nested definitions (methods inside classes, inner functions).
func (w *fileWalk) emit(node *sitter.Node, inClass bool, decorators []string) {
	kind, ok := w.spec.Definitions[node.Type()]
	if !ok {
		return
	}

	// variable_declarator only counts as a function when it binds one.
	if node.Type() == "variable_declarator" && !bindsFunction(node) {
		return
	}

	name := definitionName(node, w.src)
	if name == "" {
		return
	}
	if kind == "function" && inClass {
		kind = "method"
	}

	c := Chunk{
		ID:         uuid.NewString(),
		File:       w.path,
		Name:       name,
		Kind:       kind,
		Language:   w.lang,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Content:    string(w.src[node.StartByte():node.EndByte()]),
		Decorators: decorators,
		Calls:      w.collectCalls(node),
	}

	switch kind {
	case "class":
		c.IsModel = w.isModelClass(node)
		w.outline.Classes = append(w.outline.Classes, name)
	case "function", "method":
		w.outline.Functions = append(w.outline.Functions, name)
	}

	w.chunks = append(w.chunks, c)

	// Recurse into the body so methods and nested definitions become
	// chunks of their own.
	nowInClass := inClass || kind == "class" || kind == "interface"
	if body := node.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			w.walk(body.NamedChild(i), nowInClass)
		}
	}
}

// collectCalls scans the definition body for call expressions and records
// the final identifier of each target: for a.b.c() that is c, since the
// receiver is not the invoked symbol.
func (w *fileWalk) collectCalls(node *sitter.Node) []string {
	var calls []string
	seen := make(map[string]bool)

	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if w.spec.CallKinds[n.Type()] {
			if target := n.ChildByFieldName("function"); target != nil {
				if name := finalIdentifier(target, w.src); name != "" && !seen[name] {
					seen[name] = true
					calls = append(calls, name)
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(node)
	return calls
}

// isModelClass reports whether the class inherits from a configured
// data-model base class.
func (w *fileWalk) isModelClass(node *sitter.Node) bool {
	text := superclassText(node, w.src)
	if text == "" {
		return false
	}
	for _, re := range w.extractor.modelBases {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// constantName extracts a constant name from a ConstantKinds node, best
// effort. Go const_spec names always count; assignment-style declarations
// only count when the name is SCREAMING_SNAKE (the usual constant
// convention in python and javascript).
func (w *fileWalk) constantName(node *sitter.Node) string {
	var nameNode *sitter.Node
	if n := node.ChildByFieldName("name"); n != nil {
		nameNode = n
	} else if n := node.ChildByFieldName("left"); n != nil {
		nameNode = n
	}
	if nameNode == nil || nameNode.Type() != "identifier" {
		return ""
	}
	name := nameNode.Content(w.src)
	if node.Type() == "const_spec" {
		return name
	}
	if name == strings.ToUpper(name) && strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return name
	}
	return ""
}

// definitionName returns the declared name of a definition node.
func definitionName(node *sitter.Node, src []byte) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return n.Content(src)
	}
	return ""
}

// decoratorText returns the decorator source without the leading @.
func decoratorText(node *sitter.Node, src []byte) string {
	return strings.TrimPrefix(node.Content(src), "@")
}

// precedingDecorators collects decorator siblings immediately before a
// definition node (typescript attaches them as siblings, not wrappers).
func precedingDecorators(node *sitter.Node, spec *LanguageSpec, src []byte) []string {
	if len(spec.DecoratorKinds) == 0 {
		return nil
	}
	var decorators []string
	for prev := node.PrevNamedSibling(); prev != nil && spec.DecoratorKinds[prev.Type()]; prev = prev.PrevNamedSibling() {
		decorators = append([]string{decoratorText(prev, src)}, decorators...)
	}
	return decorators
}

// bindsFunction reports whether a variable_declarator's value is a function.
func bindsFunction(node *sitter.Node) bool {
	value := node.ChildByFieldName("value")
	if value == nil {
		return false
	}
	switch value.Type() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

// finalIdentifier descends a call target expression to its final
// identifier: the attribute of a dotted access, the field of a selector,
// the property of a member expression. Returns "" when the target has no
// identifier (e.g. a call on a call result).
func finalIdentifier(node *sitter.Node, src []byte) string {
	for node != nil {
		switch node.Type() {
		case "identifier", "field_identifier", "property_identifier", "type_identifier":
			return node.Content(src)
		case "attribute":
			node = node.ChildByFieldName("attribute")
		case "selector_expression":
			node = node.ChildByFieldName("field")
		case "member_expression":
			node = node.ChildByFieldName("property")
		case "parenthesized_expression":
			node = node.NamedChild(0)
		case "generic_function":
			node = node.ChildByFieldName("function")
		default:
			// Unknown shape (subscript, call-on-call, lambda). Try the
			// last named child once; give up on leaves.
			if node.NamedChildCount() == 0 {
				return ""
			}
			node = node.NamedChild(int(node.NamedChildCount()) - 1)
		}
	}
	return ""
}

// superclassText returns the raw superclass list of a class definition, or
// "" when it has none. Python uses the superclasses field; javascript and
// typescript use a class_heritage clause.
func superclassText(node *sitter.Node, src []byte) string {
	if n := node.ChildByFieldName("superclasses"); n != nil {
		return n.Content(src)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_heritage", "extends_clause":
			return child.Content(src)
		}
	}
	return ""
}
