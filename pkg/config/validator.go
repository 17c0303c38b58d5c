package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// modelIDPattern matches hub repository ids: an optional owner and a model name
// separated by a single slash, built from alphanumerics, dots, dashes and underscores.
var modelIDPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*/)?[A-Za-z0-9][A-Za-z0-9._-]*$`)

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("model_ref", validateModelRef)
}

// validateModelRef accepts a hub model id or a local model directory.
func validateModelRef(fl validator.FieldLevel) bool {
	ref := fl.Field().String()
	if IsLocalModelPath(ref) {
		return !strings.ContainsRune(ref, 0)
	}
	return isModelID(ref)
}

func isModelID(id string) bool {
	if id == "" || len(id) > 96 {
		return false
	}
	if strings.Contains(id, "..") || strings.Contains(id, "--") {
		return false
	}
	if strings.HasSuffix(id, ".") || strings.HasSuffix(id, "-") {
		return false
	}
	return modelIDPattern.MatchString(id)
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := RegisterCustomValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	return v, nil
}

// validateStruct runs tag validation and reports the first failure as a
// ValidationError whose field is prefix followed by the koanf path.
func validateStruct(v *validator.Validate, s any, prefix string) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{Field: prefix + fieldPath(fe.Namespace()), Reason: describeTag(fe), Cause: err}
	}
	return &ValidationError{Reason: err.Error(), Cause: err}
}

// fieldPath turns a validator namespace like "Config.decoder.max_sequence_len"
// into the dot path used everywhere else.
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "model_ref":
		return fmt.Sprintf("%q is neither a model id nor a local path", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Sprintf("failed %s (got %v)", fe.Tag(), fe.Value())
	}
}

// validateCustom performs cross-field validation beyond struct tags.
func validateCustom(cfg *Config) error {
	if cfg.Decoder.MaxSequenceLen < cfg.Data.MaxSequenceLen {
		return NewValidationError(
			"decoder.max_sequence_len",
			fmt.Sprintf(
				"must be at least data.max_sequence_len (%d < %d)",
				cfg.Decoder.MaxSequenceLen,
				cfg.Data.MaxSequenceLen,
			),
		)
	}
	if cfg.UseSelfCond && cfg.Training.StepUnrolled {
		return NewValidationError(
			"use_self_cond",
			"self-conditioning and step unrolling cannot be enabled together",
		)
	}
	return nil
}
