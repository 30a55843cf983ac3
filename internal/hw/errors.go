package hw

import (
	"errors"
	"fmt"
)

var (
	// ErrPlatformUnsupported is returned by the platform factory when no
	// provider exists for the running OS.
	ErrPlatformUnsupported = errors.New("platform unsupported")
	// ErrUnparsable marks output that did not have the expected shape.
	ErrUnparsable = errors.New("unparsable output")
	// ErrNoDevice reports that a source found nothing to measure.
	ErrNoDevice = errors.New("no matching device")
)

// CollectionError reports a failed external command, vendor API or kernel
// interface.
type CollectionError struct {
	Source string
	Err    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Source, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// Collect wraps err as a CollectionError for source. A nil err stays nil.
func Collect(source string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CollectionError
	if errors.As(err, &existing) && existing.Source == source {
		return err
	}
	return &CollectionError{Source: source, Err: err}
}

// Unparsable wraps a shape mismatch for source.
func Unparsable(source, detail string) error {
	return &CollectionError{Source: source, Err: fmt.Errorf("%w: %s", ErrUnparsable, detail)}
}
