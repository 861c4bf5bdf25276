// Package config populates client configuration structs from the environment
// using `env:"..."` struct tags, and provides Secret for values that must not
// reach logs.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/parseutil"
)

const secretMask = "*****"

// Secret variables are not shown in the printed output.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

// EnvGetter ...
type EnvGetter interface {
	Get(key string) string
}

// InputParser ...
type InputParser interface {
	Parse(input interface{}) error
}

type defaultInputParser struct {
	envGetter EnvGetter
}

// NewInputParser ...
func NewInputParser(envGetter EnvGetter) InputParser {
	return defaultInputParser{
		envGetter: envGetter,
	}
}

// Parse ...
func (p defaultInputParser) Parse(input interface{}) error {
	return parse(input, p.envGetter)
}

// ParseError occurs when a struct field cannot be set.
type ParseError struct {
	Field string
	Value string
	Err   error
}

// Error implements builtin errors.Error.
func (e *ParseError) Error() string {
	segments := []string{e.Field}
	if e.Value != "" {
		segments = append(segments, fmt.Sprintf("value: %s", e.Value))
	}
	segments = append(segments, e.Err.Error())
	return strings.Join(segments, ": ")
}

var errNotStructPtr = errors.New("must be a pointer to a struct")

func parse(conf interface{}, envGetter EnvGetter) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr || c.Elem().Kind() != reflect.Struct {
		return errNotStructPtr
	}
	c = c.Elem()

	t := c.Type()
	var errs []string
	for i := 0; i < c.NumField(); i++ {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}

		key, constraint := parseTag(tag)
		value := envGetter.Get(key)

		if err := setField(c.Field(i), value, constraint); err != nil {
			parseErr := ParseError{Field: t.Field(i).Name, Value: value, Err: err}
			errs = append(errs, parseErr.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "\n"))
	}

	return nil
}

// parseTag splits an `env:"name,constraint"` tag into its name and constraint
// parts.
func parseTag(tag string) (string, string) {
	if idx := strings.Index(tag, ","); idx != -1 {
		return tag[:idx], tag[idx+1:]
	}
	return tag, ""
}

func setField(field reflect.Value, value, constraint string) error {
	if err := validateConstraint(value, constraint); err != nil {
		return err
	}

	if value == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		// Accepts yes/no alongside the strconv vocabulary.
		b, err := parseutil.ParseBool(value)
		if err != nil {
			return errors.New("can't convert to bool")
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.New("can't convert to int")
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("type is not supported (%s)", field.Type())
		}
		field.Set(reflect.ValueOf(strings.Split(value, "|")))
	case reflect.Ptr:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("type is not supported (%s)", field.Type())
		}
		field.Set(reflect.ValueOf(&value))
	default:
		return fmt.Errorf("type is not supported (%s)", field.Kind())
	}

	return nil
}

func validateConstraint(value, constraint string) error {
	switch {
	case constraint == "":
		return nil
	case constraint == "required":
		if value == "" {
			return errors.New("required variable is not present")
		}
		return nil
	case strings.HasPrefix(constraint, "opt[") && strings.HasSuffix(constraint, "]"):
		options := strings.Split(strings.TrimSuffix(strings.TrimPrefix(constraint, "opt["), "]"), ",")
		for i, option := range options {
			options[i] = strings.TrimSpace(option)
		}
		for _, option := range options {
			if option == value {
				return nil
			}
		}
		return fmt.Errorf("value is not in value options (%s)", strings.Join(options, ", "))
	default:
		return fmt.Errorf("invalid constraint (%s)", constraint)
	}
}
