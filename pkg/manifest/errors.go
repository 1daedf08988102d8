package manifest

import (
	"bytes"
	"fmt"
	"strings"

	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

// Problem is a single thing wrong with a manifest.
type Problem struct {
	Field   string
	Message string
}

func (p Problem) String() string {
	if p.Field == "" {
		return p.Message
	}
	return p.Field + ": " + p.Message
}

// ConfigurationError is returned when a manifest cannot be used as
// given. It collects every problem found, rather than stopping at the
// first one.
type ConfigurationError struct {
	Problems []Problem
}

func (e *ConfigurationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i := range e.Problems {
		msgs[i] = e.Problems[i].String()
	}
	return "invalid manifest: " + strings.Join(msgs, "; ")
}

func (e *ConfigurationError) Helpful() *ecserr.Error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "The manifest could not be used, because of these problems:")
	fmt.Fprintln(&buf)
	for _, p := range e.Problems {
		fmt.Fprintf(&buf, "  - %s\n", p)
	}
	fmt.Fprintln(&buf)
	fmt.Fprintln(&buf, "Fix the manifest and try again; `ecsdeploy lint <env>` will check it without touching AWS.")
	return &ecserr.Error{
		Type: ecserr.User,
		Help: buf.String(),
		Err:  e,
	}
}

func (e *ConfigurationError) add(field, format string, args ...interface{}) {
	e.Problems = append(e.Problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ConfigurationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
