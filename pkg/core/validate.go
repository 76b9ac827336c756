// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"

	"go.uber.org/multierr"
)

// Field validation helpers. Params.Validate implementations compose these
// and aggregate with multierr so a ticket reports every violation at once.

// CheckRequired fails when a required string field is empty.
func CheckRequired(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// CheckRange fails when value lies outside [min, max].
func CheckRange[N int | int64 | float64](field string, value, min, max N) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be in [%v, %v], got %v", field, min, max, value)
	}
	return nil
}

// CheckLen fails when the string's length lies outside [min, max].
func CheckLen(field, value string, min, max int) error {
	if len(value) < min || len(value) > max {
		return fmt.Errorf("%s length must be in [%d, %d], got %d", field, min, max, len(value))
	}
	return nil
}

// CheckEnum fails when value is not one of the allowed members.
func CheckEnum(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, value)
}

// CheckAll aggregates the given violations.
func CheckAll(errs ...error) error {
	return multierr.Combine(errs...)
}
