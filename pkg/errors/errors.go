package errors

import (
	"encoding/json"
	"errors"
)

// Representation of errors shown to operators. These are divided
// into a small number of categories, essentially distinguished by
// whose fault the error is; i.e., is this error:
//  - a transient problem with AWS or the history store, so worth trying again?
//  - not going to work until the user takes some other action, e.g., fixing the manifest?
type Error struct {
	Type Type
	// a message that can be printed out for the user
	Help string `json:"help"`
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// The operation looked fine on paper, but something went wrong
	Server Type = "server"
	// The thing you mentioned, whatever it is, just doesn't exist
	Missing = "missing"
	// The operation was well-formed, but you asked for something that
	// can't happen at present (e.g., because the manifest is
	// incomplete, or there is nothing to roll back to)
	User = "user"
)

// Helpful is implemented by errors that know how to present
// themselves to an operator.
type Helpful interface {
	Helpful() *Error
}

func IsMissing(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Type == Missing {
		return true
	}
	return false
}

// Explain returns the most helpful representation available for
// err: err itself if it is already an *Error, the result of Helpful()
// if anything in the chain implements it, or a cover-all otherwise.
func Explain(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var h Helpful
	if errors.As(err, &h) {
		return h.Helpful()
	}
	return CoverAllError(err)
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Type: string(e.Type),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Type = Type(jsonable.Type)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

func CoverAllError(err error) *Error {
	return &Error{
		Type: Server,
		Err:  err,
		Help: `We don't have a specific help message for the error above. It may
be transient (AWS or the history store being unavailable), in which
case trying again will work. If it persists, include the log output
when reporting the problem.
`,
	}
}
