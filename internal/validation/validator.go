// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package validation wraps a go-playground/validator v10 singleton with the
// custom rules onixmirror needs for configuration and command input.
//
//	type listRequest struct {
//	    Program string `validate:"required,program"`
//	}
//	if err := validation.ValidateStruct(&req); err != nil { ... }
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var (
	// SQLIdentPattern matches table and column names the store accepts.
	SQLIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// ProgramPattern matches list program names. The third group is E for
	// publisher-sourced lists and AE otherwise.
	ProgramPattern = regexp.MustCompile(`^getRecordListX_(\w+)_(\w+)_(E|AE)$`)

	// IdentifierPattern matches catalog identifiers (ISBN-10/13, EAN, or
	// proprietary references made of letters, digits and dashes).
	IdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,63}$`)
)

// FieldError describes one failed rule.
type FieldError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct field name that failed validation.
func (e *FieldError) Field() string { return e.field }

// Tag returns the failing rule.
func (e *FieldError) Tag() string { return e.tag }

// Param returns the rule parameter, for example "1" for "min=1".
func (e *FieldError) Param() string { return e.param }

func (e *FieldError) Error() string { return e.message }

// Error collects every failed rule of one ValidateStruct call.
type Error struct {
	errors []FieldError
}

// Errors returns the individual failures.
func (ve *Error) Errors() []FieldError {
	return ve.errors
}

func (ve *Error) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for i := range ve.errors {
		messages = append(messages, ve.errors[i].message)
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the singleton validator.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		mustRegister("sqlident", SQLIdentPattern)
		mustRegister("program", ProgramPattern)
		mustRegister("identifier", IdentifierPattern)
	})
	return validate
}

func mustRegister(tag string, re *regexp.Regexp) {
	err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// ValidateStruct validates s. It returns nil or an *Error.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}
	return convert(err)
}

// ValidateVar validates a single value against tag, naming it field in messages.
func ValidateVar(field string, value interface{}, tag string) error {
	err := GetValidator().Var(value, tag)
	if err == nil {
		return nil
	}
	verr := convert(err)
	for i := range verr.errors {
		verr.errors[i].field = field
		verr.errors[i].message = strings.Replace(verr.errors[i].message, "{field}", field, 1)
	}
	return verr
}

func convert(err error) *Error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &Error{errors: []FieldError{{field: "unknown", tag: "unknown", message: err.Error()}}}
	}

	out := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		field := fe.Namespace()
		if field == "" {
			field = "{field}"
		}
		out[i] = FieldError{
			field:   field,
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translate(fe, field),
		}
	}
	return &Error{errors: out}
}

var messageTemplates = map[string]string{
	"required":   "%s is required",
	"url":        "%s must be a valid URL",
	"sqlident":   "%s must be a valid SQL identifier (letters, digits, underscore)",
	"program":    "%s must match getRecordListX_<type>_<format>_<E|AE>",
	"identifier": "%s must be a catalog identifier (letters, digits, dashes)",
	"dive":       "%s contains an invalid element",
}

var paramTemplates = map[string]string{
	"oneof":    "%s must be one of: %s",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
	"gte":      "%s must be greater than or equal to %s",
	"lte":      "%s must be less than or equal to %s",
	"gtefield": "%s must be greater than or equal to %s",
	"ltefield": "%s must be less than or equal to %s",
}

func translate(fe validator.FieldError, field string) string {
	if tmpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
