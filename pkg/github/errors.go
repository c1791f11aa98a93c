package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/metastore/pkg/metastore"
)

// FieldError is one entry of a validation failure's "errors" list.
type FieldError struct {
	Resource string `json:"resource"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// RemoteError is a non-2xx response from the API. It matches
// metastore.ErrTransport with errors.Is.
type RemoteError struct {
	Status           int          `json:"-"`
	Method           string       `json:"-"`
	Path             string       `json:"-"`
	Message          string       `json:"message"`
	DocumentationURL string       `json:"documentation_url,omitempty"`
	Errors           []FieldError `json:"errors,omitempty"`
}

func (e *RemoteError) Error() string {
	msg := e.Message
	for _, fe := range e.Errors {
		if fe.Message != "" {
			msg += "; " + fe.Message
		}
	}
	if msg == "" {
		msg = "no message"
	}
	return fmt.Sprintf("github: %s %s: %d: %s", e.Method, e.Path, e.Status, msg)
}

func (e *RemoteError) Unwrap() error {
	return metastore.ErrTransport
}

// contains reports whether the message or any field error mentions s.
func (e *RemoteError) contains(s string) bool {
	if strings.Contains(e.Message, s) {
		return true
	}
	for _, fe := range e.Errors {
		if strings.Contains(fe.Message, s) {
			return true
		}
	}
	return false
}

// parseRemoteError builds a RemoteError from a response body. Bodies that are
// not JSON become the message verbatim.
func parseRemoteError(status int, method, path string, body []byte) *RemoteError {
	re := &RemoteError{}
	if err := json.Unmarshal(body, re); err != nil || re.Message == "" {
		re.Message = strings.TrimSpace(string(body))
	}
	re.Status, re.Method, re.Path = status, method, path
	return re
}

// hasStatus reports whether err is a RemoteError with the given status.
func hasStatus(err error, status int) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) && re.Status == status {
		return re, true
	}
	return nil, false
}
