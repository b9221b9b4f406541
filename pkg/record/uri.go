package record

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const SchemeCC = "cc"

var (
	ErrInvalidURI        = errors.New("invalid uri")
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
)

// URI is a parsed record URI. External is set for http(s) URIs, which name
// resources outside the record service.
type URI struct {
	Owner    string
	Key      string
	External *url.URL
}

// ParseURI accepts the query-escaped form a client puts in the path, e.g.
// cc%3A%2F%2Fuser000%2Fhello, as well as the plain cc://user000/hello.
func ParseURI(escaped string) (URI, error) {
	raw, err := url.QueryUnescape(escaped)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	switch u.Scheme {
	case "http", "https":
		return URI{External: u}, nil
	case SchemeCC:
		return URI{Owner: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	default:
		return URI{}, ErrUnsupportedScheme
	}
}

func ComposeURI(owner, key string) string {
	return fmt.Sprintf("cc://%s/%s", owner, key)
}

func (u URI) String() string {
	if u.External != nil {
		return u.External.String()
	}
	return ComposeURI(u.Owner, u.Key)
}
