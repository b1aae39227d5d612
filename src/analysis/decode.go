package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"learnassist/src/model"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// payloadAPI encodes nil slices and maps as empty values so result payloads
// always carry every key.
var payloadAPI = sonic.Config{NoNullSliceOrMap: true}.Froze()

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	if err := validate.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		panic(fmt.Sprintf("register nonblank validation: %v", err))
	}
}

// bindInputs decodes a loosely typed input map into dst and validates it.
func bindInputs(inputs map[string]any, dst any) error {
	if inputs == nil {
		inputs = map[string]any{}
	}
	data, err := sonic.Marshal(inputs)
	if err != nil {
		return model.NewValidationError("inputs", "inputs are not serializable: "+err.Error())
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return model.NewValidationError("inputs", "inputs have the wrong shape: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return model.NewValidationError("inputs", err.Error())
	}
	fe := fieldErrs[0]
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return model.NewValidationError(fieldPath(fe), "failed "+reason)
}

// fieldPath drops the top-level struct name from a validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func missingFields(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fieldPath(fe))
	}
	return fields
}

// extractJSON returns the outermost JSON object in raw, tolerating code
// fences and surrounding prose.
func extractJSON(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// toMap converts a typed payload into the generic map carried by results.
func toMap(v any) (map[string]any, error) {
	data, err := payloadAPI.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var out map[string]any
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return out, nil
}

// mergeInto overlays src onto a copy of base.
func mergeInto(base, src map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(src))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
