package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var settingsValidate = validator.New()

// Validate checks field constraints and that HeavyPattern compiles.
func Validate(cfg Settings) error {
	if err := settingsValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid setting %s: failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	if _, err := regexp.Compile(cfg.HeavyPattern); err != nil {
		return fmt.Errorf("invalid setting heavy_pattern: %w", err)
	}
	return nil
}

// Apply merges a JSON subset of tunables into a copy of cur. Nested settings
// objects merge field by field ({"residual":{"strength":0.3}} keeps the other
// residual fields); a model map entry given in the patch replaces that entry
// whole. Unknown keys are rejected.
func Apply(cur Settings, patch []byte) (Settings, error) {
	next, err := clone(cur)
	if err != nil {
		return cur, err
	}
	if len(bytes.TrimSpace(patch)) == 0 {
		return cur, fmt.Errorf("empty config patch")
	}
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return cur, fmt.Errorf("decode config patch: %w", err)
	}
	next.Normalize()
	if err := Validate(next); err != nil {
		return cur, err
	}
	return next, nil
}

// clone deep-copies settings so map merges never alias the live value.
func clone(s Settings) (Settings, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return s, fmt.Errorf("copy settings: %w", err)
	}
	var out Settings
	if err := json.Unmarshal(b, &out); err != nil {
		return s, fmt.Errorf("copy settings: %w", err)
	}
	return out, nil
}
