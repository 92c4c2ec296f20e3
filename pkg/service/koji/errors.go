package koji

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kolo/xmlrpc"
)

// GenericError is a fault reported by the hub itself, as opposed to a
// transport problem reaching it.
type GenericError struct {
	Code    int
	Message string
}

func (e *GenericError) Error() string {
	return fmt.Sprintf("hub fault %d: %s", e.Code, e.Message)
}

// Reason condenses the hub's explanation to the text up to the first
// colon, which is where koji puts the failure class.
func (e *GenericError) Reason() string {
	reason, _, _ := strings.Cut(e.Message, ":")
	return reason
}

func asFault(err error, out **xmlrpc.FaultError) bool {
	if err == nil {
		return false
	}
	var value xmlrpc.FaultError
	if errors.As(err, &value) {
		*out = &value
		return true
	}
	var ptr *xmlrpc.FaultError
	if errors.As(err, &ptr) {
		*out = ptr
		return true
	}
	return false
}
