package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"ralph/pkg/utils"
)

var errInvalidArguments = errors.New("invalid-arguments")

// flexString accepts a JSON string or number. Models regularly send atomic
// amounts as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return &json.UnmarshalTypeError{Value: string(b), Type: reflect.TypeOf("")}
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) trimmed() string {
	return strings.TrimSpace(string(f))
}

// flexNumber accepts a JSON number or numeric string. Anything else leaves it
// unset so callers fall back to their default.
type flexNumber struct {
	v   float64
	set bool
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case float64:
		f.v, f.set = t, true
	case string:
		if v, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			f.v, f.set = v, true
		}
	}
	if f.set && (math.IsNaN(f.v) || math.IsInf(f.v, 0)) {
		f.set = false
	}
	return nil
}

// clamp floors the value into [min,max], or returns fallback when unset.
func (f flexNumber) clamp(fallback, min, max int) int {
	if !f.set {
		return fallback
	}
	v := math.Floor(f.v)
	if v < float64(min) {
		return min
	}
	if v > float64(max) {
		return max
	}
	return utils.ClampInt(int(v), min, max)
}

// decodeArgs decodes a tool call's JSON arguments into dst. Empty arguments
// decode as an empty object; a type mismatch names the offending field.
func decodeArgs(raw string, dst interface{}) error {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	if !strings.HasPrefix(raw, "{") {
		return fmt.Errorf("%w: expected object", errInvalidArguments)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return fmt.Errorf("%w: %s", errInvalidArguments, typeErr.Field)
		}
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return nil
}
