package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names, they are what the model was asked to produce
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Malformed describes model output that failed extraction or validation
type Malformed struct {
	Reason string
	Raw    string
}

func (m *Malformed) Error() string {
	return "malformed model output: " + m.Reason
}

// Result is either Parsed (Value set) or Malformed. Check Malformed() before
// touching the value.
type Result[T any] struct {
	value     T
	malformed *Malformed
}

// Parsed wraps a valid value
func Parsed[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// MalformedResult wraps a failure
func MalformedResult[T any](reason, raw string) Result[T] {
	return Result[T]{malformed: &Malformed{Reason: reason, Raw: raw}}
}

// Value returns the parsed value and true, or the zero value and false
func (r Result[T]) Value() (T, bool) {
	return r.value, r.malformed == nil
}

// Malformed returns the failure, or nil when the result was parsed
func (r Result[T]) Malformed() *Malformed {
	return r.malformed
}

// ParseJSON extracts the last complete JSON object from model output,
// decodes it into T and runs struct validation on it.
func ParseJSON[T any](text string) Result[T] {
	raw, ok := ExtractLastJSON(text)
	if !ok {
		return MalformedResult[T]("no JSON object found", text)
	}
	return ParseRawJSON[T](raw)
}

// ParseRawJSON decodes a JSON object into T and validates it
func ParseRawJSON[T any](raw []byte) Result[T] {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return MalformedResult[T](fmt.Sprintf("invalid JSON: %v", err), string(raw))
	}

	if err := validate.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// T is not a struct, nothing to validate
			return Parsed(v)
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			reasons := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				reasons = append(reasons, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return MalformedResult[T](strings.Join(reasons, "; "), string(raw))
		}
		return MalformedResult[T](err.Error(), string(raw))
	}

	return Parsed(v)
}

// ValidateStruct runs the shared validator on a request or payload struct
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}

// ExtractLastJSON returns the last top-level JSON object in text that parses.
// Markdown code fences and surrounding prose are ignored.
func ExtractLastJSON(text string) ([]byte, bool) {
	spans := ScanObjects(text, 0)
	for i := len(spans) - 1; i >= 0; i-- {
		candidate := []byte(text[spans[i].Start:spans[i].End])
		if json.Valid(candidate) {
			return candidate, true
		}
	}
	return nil, false
}

// Span is the [Start, End) byte range of a JSON object inside a buffer
type Span struct {
	Start int
	End   int
}

// ScanObjects scans buf forward from offset from and returns every complete
// top-level {...} object, skipping braces inside string literals. Objects
// nested in another object are part of their parent's span. An object that
// is still open at the end of buf is not returned.
func ScanObjects(buf string, from int) []Span {
	var spans []Span
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := from; i < len(buf); i++ {
		c := buf[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			// Quotes only open strings inside an object; prose between
			// objects may contain stray quotes
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, Span{Start: start, End: i + 1})
				start = -1
			}
		}
	}

	return spans
}
