package scraper

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	msgDomainRequired = "Please enter a domain name"
	msgDomainInvalid  = "Please enter a valid domain (e.g., example.com)"
)

// hostnamePattern accepts label(.label)+ with an alphabetic TLD of two or more letters.
var hostnamePattern = regexp.MustCompile(`(?i)^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// NormalizeURL turns user input like "example.com" into "https://example.com".
// Input that already carries an http or https scheme keeps it.
func NormalizeURL(raw string) (string, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return "", &ValidationError{Field: "domain", Message: msgDomainRequired}
	}

	lower := strings.ToLower(input)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(input, "://") {
			return "", &ValidationError{Field: "domain", Message: msgDomainInvalid}
		}
		input = "https://" + input
	}

	u, err := url.Parse(input)
	if err != nil || u.User != nil || !hostnamePattern.MatchString(u.Hostname()) {
		return "", &ValidationError{Field: "domain", Message: msgDomainInvalid}
	}

	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String(), nil
}
