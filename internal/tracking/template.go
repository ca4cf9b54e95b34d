package tracking

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^}]*?)\s*\}\}`)

// Renderer interpolates {{expression}} placeholders in hook payloads.
// Expressions are evaluated against the render data and compiled programs are
// cached by source.
type Renderer struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewRenderer creates a renderer with an empty program cache
func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*vm.Program)}
}

// Render replaces every placeholder in tmpl. Empty placeholders, and those
// that fail at run time or evaluate to nil, render as the empty string; a
// placeholder that does not compile fails the whole render.
func (r *Renderer) Render(tmpl string, data map[string]interface{}) (string, error) {
	var renderErr error
	out := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if renderErr != nil {
			return ""
		}
		source := placeholderPattern.FindStringSubmatch(match)[1]
		if source == "" {
			return ""
		}
		program, err := r.compile(source)
		if err != nil {
			renderErr = fmt.Errorf("compiling placeholder %q: %w", source, err)
			return ""
		}
		value, err := expr.Run(program, data)
		if err != nil || value == nil {
			return ""
		}
		return formatValue(value)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

func (r *Renderer) compile(source string) (*vm.Program, error) {
	r.mu.RLock()
	program, ok := r.cache[source]
	r.mu.RUnlock()
	if ok {
		return program, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if program, ok = r.cache[source]; ok {
		return program, nil
	}
	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	r.cache[source] = program
	return program, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

// renderData converts the entities to the generic maps templates see, keyed
// by their JSON field names
func renderData(entities map[string]interface{}) (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(entities))
	for name, entity := range entities {
		if entity == nil {
			data[name] = nil
			continue
		}
		b, err := json.Marshal(entity)
		if err != nil {
			return nil, fmt.Errorf("encoding %s for template: %w", name, err)
		}
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("decoding %s for template: %w", name, err)
		}
		data[name] = v
	}
	return data, nil
}
