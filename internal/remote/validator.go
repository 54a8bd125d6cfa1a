package remote

import (
	"encoding/json"
)

// Validator is a freshness token (an entity tag) for a remote object at a
// point in time. The zero value means no validator is available.
type Validator struct {
	value   string
	present bool
}

// NoValidator 表示后端未返回任何校验值。
var NoValidator = Validator{}

// NewValidator wraps a backend supplied token.
func NewValidator(value string) Validator {
	return Validator{value: value, present: true}
}

// Present reports whether the backend supplied a token (possibly empty).
func (v Validator) Present() bool { return v.present }

// Value returns the raw token, or "" when absent.
func (v Validator) Value() string { return v.value }

func (v Validator) String() string {
	if !v.present {
		return "<none>"
	}
	return v.value
}

// MarshalJSON encodes an absent validator as null.
func (v Validator) MarshalJSON() ([]byte, error) {
	if !v.present {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

func (v *Validator) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = NoValidator
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = NewValidator(s)
	return nil
}
