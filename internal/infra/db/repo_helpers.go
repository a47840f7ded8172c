package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DebasishTripathy13/CA/internal/domain"
)

var errDBUnavailable = fmt.Errorf("%w: db unavailable", domain.ErrInternal)

func stringPtrIfNotEmpty(value string) *string {
	if value == "" {
		return nil
	}
	v := value
	return &v
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Microsecond)
	return &v
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode json column: %v", domain.ErrInternal, err)
	}
	return data, nil
}

// wrapDB tags driver errors that are not already domain errors as internal.
func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{domain.ErrNotFound, domain.ErrConflict, domain.ErrInvalidArgument, domain.ErrInternal} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrInternal, op, err)
}
