package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	safeIDPattern      = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)
	destinationPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-+@ ]+$`)
)

// minDestinationAlnum is what masking to the last four characters needs.
const minDestinationAlnum = 4

func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(jsonFieldName)
	for tag, fn := range map[string]validator.Func{
		"safe_id":     func(fl validator.FieldLevel) bool { return safeIDPattern.MatchString(fl.Field().String()) },
		"destination": validDestination,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validator: %v", tag, err))
		}
	}
}

// jsonFieldName makes validation errors name the field as clients send it.
func jsonFieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// validDestination accepts account numbers, IBANs, phone numbers and
// gateway account ids.
func validDestination(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if !destinationPattern.MatchString(raw) {
		return false
	}
	alnum := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, raw)
	return len(alnum) >= minDestinationAlnum
}

// DescribeBindError turns a ShouldBind error into a client-facing message
// without echoing Go type names.
func DescribeBindError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			parts = append(parts, fmt.Sprintf("%s fails %s", fe.Field(), rule))
		}
		return strings.Join(parts, "; ")
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("%s must be %s", typeErr.Field, typeErr.Type.Kind())
	}
	return "malformed request body"
}

// SanitizeStruct trims and HTML-escapes the exported string and *string
// fields of a struct pointer. Free-text fields stored for audit go through it.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return
	}
	rv = rv.Elem()
	for i := range rv.NumField() {
		f := rv.Field(i)
		if f.Kind() == reflect.Pointer && !f.IsNil() {
			f = f.Elem()
		}
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(html.EscapeString(strings.TrimSpace(f.String())))
		}
	}
}
