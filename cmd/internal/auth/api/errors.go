package authapi

import "fmt"

// Kind classifies a failed gateway call.
type Kind int

const (
	// KindNetwork means no HTTP response was received.
	KindNetwork Kind = iota + 1
	// KindUnauthorized means the server answered 401 and renewal did not help.
	KindUnauthorized
	// KindApplication covers every other non-success answer.
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindApplication:
		return "application"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error value carried by Result and Response.
//
// Message is suitable for showing to the user; the underlying cause, when
// there is one, is reachable through errors.Unwrap.
type Error struct {
	Kind    Kind
	Status  int
	Message string

	cause error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("authapi: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("authapi: %s (%d): %s", e.Kind, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

type messageKey int

const (
	msgNetwork messageKey = iota
	msgFallback
)

var messages = map[string]map[messageKey]string{
	LocaleEN: {
		msgNetwork:  "Network error",
		msgFallback: "Something went wrong",
	},
	LocaleRU: {
		msgNetwork:  "Ошибка сети",
		msgFallback: "Произошла ошибка",
	},
}

func localize(locale string, key messageKey) string {
	if m, ok := messages[locale]; ok {
		return m[key]
	}
	return messages[LocaleEN][key]
}
