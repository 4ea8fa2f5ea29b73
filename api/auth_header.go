package api

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken extracts the compact JWT from an Authorization header value.
func bearerToken(raw string) (string, error) {
	raw = strings.Trim(raw, " ")
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, bearerPrefix)
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	// header.payload.signature
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
