package pipeline

import (
	"errors"
	"fmt"
)

// Attempt is one step of a fallback chain.
type Attempt struct {
	Name string
	Run  func() error
}

// TryChain evaluates attempts in order until one succeeds and returns its
// name. If every attempt fails the collected errors are joined. This is
// how the pipeline expresses fallback sequences like weld → quantize or
// full-precision → reduced-precision compression without nesting error
// handlers.
func TryChain(attempts ...Attempt) (string, error) {
	var errs []error
	for _, a := range attempts {
		if err := a.Run(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
			continue
		}
		return a.Name, nil
	}
	return "", errors.Join(errs...)
}
