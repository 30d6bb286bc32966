// Package secret holds connection strings that must not leak into logs,
// CLI output or error messages.
package secret

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const redacted = "[redacted]"

// String is a sensitive value. Its formatting methods never reveal the
// contents; callers read it through Expose at the point of use.
type String struct {
	b []byte
}

// New wraps s.
func New(s string) *String {
	return &String{b: []byte(s)}
}

// Expose returns the wrapped value. An empty or zeroed String exposes "".
func (s *String) Expose() string {
	if s == nil {
		return ""
	}
	return string(s.b)
}

// Zero overwrites the value in place.
func (s *String) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// Empty reports whether there is no value.
func (s *String) Empty() bool {
	return s == nil || len(s.b) == 0
}

func (s *String) String() string { return redacted }

func (s *String) GoString() string { return redacted }

// Format keeps %v, %s, %q and %+v from printing the value.
func (s *String) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

// MarshalText keeps encoders from printing the value.
func (s *String) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// ReplaceDBName returns dsn with its database file name replaced by name,
// keeping the directory, the extension and any query parameters.
//
//	ReplaceDBName("file:/var/lib/idx/main.db?_txlock=immediate", "test_1")
//	  == "file:/var/lib/idx/test_1.db?_txlock=immediate"
func ReplaceDBName(dsn *String, name string) (*String, error) {
	if name == "" || strings.ContainsAny(name, "/?#") {
		return nil, fmt.Errorf("replace db name: invalid name %q", name)
	}
	raw := dsn.Expose()
	if raw == "" {
		return nil, fmt.Errorf("replace db name: empty dsn")
	}

	prefix := ""
	if strings.HasPrefix(raw, "file:") {
		prefix = "file:"
		raw = strings.TrimPrefix(raw, "file:")
	}
	query := ""
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw, query = raw[:i], raw[i:]
		if _, err := url.ParseQuery(query[1:]); err != nil {
			return nil, fmt.Errorf("replace db name: %w", err)
		}
	}
	if raw == "" || raw == ":memory:" {
		return nil, fmt.Errorf("replace db name: dsn has no database file")
	}

	dir, file := path.Split(raw)
	return New(prefix + dir + name + path.Ext(file) + query), nil
}
