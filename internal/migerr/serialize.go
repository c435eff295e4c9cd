package migerr

import (
	"encoding/json"
	"errors"
)

// serialized is the JSON form of an error stored in migration history.
type serialized struct {
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message"`
	Option    string      `json:"option,omitempty"`
	Migration string      `json:"migration,omitempty"`
	Cause     *serialized `json:"cause,omitempty"`
}

// remoteError is an error restored from history that had no known kind.
type remoteError struct {
	message string
	cause   error
}

func (e *remoteError) Error() string { return e.message }
func (e *remoteError) Unwrap() error { return e.cause }

// Serialize encodes err as JSON for durable storage. Structured errors keep
// their kind and cause chain; other errors are stored by message only.
// A nil error serializes to the empty string.
func Serialize(err error) string {
	if err == nil {
		return ""
	}

	data, mErr := json.Marshal(toSerialized(err))
	if mErr != nil {
		return err.Error()
	}

	return string(data)
}

func toSerialized(err error) *serialized {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error) //nolint:errorlint // only the outermost error keeps its kind
	if !ok {
		return &serialized{Message: err.Error()}
	}

	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}

	return &serialized{
		Code:      e.Kind.Code(),
		Message:   msg,
		Option:    e.Option,
		Migration: e.Migration,
		Cause:     toSerialized(e.Cause),
	}
}

// Deserialize reverses Serialize. Text that is not valid JSON is returned as
// a plain error carrying that text; the empty string yields nil.
func Deserialize(data string) error {
	if data == "" {
		return nil
	}

	var s serialized
	if err := json.Unmarshal([]byte(data), &s); err != nil || s.Message == "" {
		return errors.New(data) //nolint:err113 // message comes from storage
	}

	return fromSerialized(&s)
}

func fromSerialized(s *serialized) error {
	if s == nil {
		return nil
	}

	cause := fromSerialized(s.Cause)

	if kind, ok := kindFromCode(s.Code); ok {
		return &Error{
			Kind:      kind,
			Message:   s.Message,
			Option:    s.Option,
			Migration: s.Migration,
			Cause:     cause,
		}
	}

	return &remoteError{message: s.Message, cause: cause}
}
