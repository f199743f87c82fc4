package pqconn

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DescriptorError is returned when a connection descriptor cannot be parsed.
// Its message never includes a password that may be embedded in the
// descriptor.
type DescriptorError struct {
	Descriptor string
	msg        string
	err        error
}

func (e *DescriptorError) Error() string {
	// Descriptors often contain a password, which must not leak into logs.
	return fmt.Sprintf("cannot parse `%s`: %s", redactPassword(e.Descriptor), e.msg)
}

func (e *DescriptorError) Unwrap() error {
	return e.err
}

func redactPassword(descriptor string) string {
	if strings.HasPrefix(descriptor, "postgres://") || strings.HasPrefix(descriptor, "postgresql://") {
		if u, err := url.Parse(descriptor); err == nil {
			return redactURL(u)
		}
	}
	quotedKV := regexp.MustCompile(`password='[^']*'`)
	descriptor = quotedKV.ReplaceAllLiteralString(descriptor, "password=xxxxx")
	plainKV := regexp.MustCompile(`password=[^ ]*`)
	descriptor = plainKV.ReplaceAllLiteralString(descriptor, "password=xxxxx")
	brokenURL := regexp.MustCompile(`:[^:@]+?@`)
	descriptor = brokenURL.ReplaceAllLiteralString(descriptor, ":xxxxx@")
	return descriptor
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if _, pwSet := u.User.Password(); pwSet {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// ConnError is a transport-level failure: the connection itself is broken or
// the transport refused an operation. The message is the transport's error
// text at the time of the failure.
type ConnError struct {
	Op  string
	Msg string
}

func (e *ConnError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

// RequestError is a server-reported failure surfaced by Result.Check. Code is
// the SQLSTATE-like classification; it is always non-empty.
type RequestError struct {
	Message string
	Code    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
}

// InternalError signals an invariant violation inside this package, such as a
// non-blocking dispatch that drains without a terminating result. It should
// never occur; seeing one is a bug.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Msg
}