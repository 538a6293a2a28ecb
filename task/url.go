package task

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// parseURL validates a user supplied content URL and returns its normalized
// form. The returned error is a human-readable reason.
func parseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("the message is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		if u.Scheme == "" {
			return "", errors.New("relative URL without a base")
		}
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("empty host")
	}
	return u.String(), nil
}
