package action

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
)

// Args are the resolved parameters of one invocation, ordered by index.
type Args []any

// Get returns the argument at i, or nil when out of range.
func (a Args) Get(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// Socket returns argument i as a transport.Socket.
func (a Args) Socket(i int) transport.Socket {
	s, _ := a.Get(i).(transport.Socket)
	return s
}

// Server returns argument i as a transport.Server.
func (a Args) Server(i int) transport.Server {
	s, _ := a.Get(i).(transport.Server)
	return s
}

// Request returns argument i as the handshake request.
func (a Args) Request(i int) *http.Request {
	r, _ := a.Get(i).(*http.Request)
	return r
}

// String returns argument i as a string. Non-string values are formatted.
func (a Args) String(i int) string {
	switch v := a.Get(i).(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float returns argument i as a float64, or 0 when it is not numeric.
func (a Args) Float(i int) float64 {
	f, _ := a.Get(i).(float64)
	return f
}

// Bool returns argument i as a bool, or false when it is not a bool.
func (a Args) Bool(i int) bool {
	b, _ := a.Get(i).(bool)
	return b
}

// Strings returns argument i as a string slice.
func (a Args) Strings(i int) []string {
	s, _ := a.Get(i).([]string)
	return s
}

// Query returns argument i as handshake query values.
func (a Args) Query(i int) url.Values {
	q, _ := a.Get(i).(url.Values)
	return q
}

// Arg returns argument i as T. The second result is false when the argument
// is missing or of another type.
func Arg[T any](args Args, i int) (T, bool) {
	v, ok := args.Get(i).(T)
	return v, ok
}
