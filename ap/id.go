/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ap

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeHost converts a host name to its lower-case punycode form.
// A port, if present, is preserved.
func NormalizeHost(host string) (string, error) {
	if host == "" {
		return "", errors.New("empty host")
	}

	name, port, err := net.SplitHostPort(host)
	if err != nil {
		name = host
		port = ""
	}

	ascii, err := idna.Punycode.ToASCII(strings.ToLower(strings.TrimSuffix(name, ".")))
	if err != nil {
		return "", fmt.Errorf("invalid host %s: %w", host, err)
	}

	if port == "" {
		return ascii, nil
	}

	return net.JoinHostPort(ascii, port), nil
}

// SameHost determines whether or not two host names are equal after normalization.
func SameHost(a, b string) bool {
	na, err := NormalizeHost(a)
	if err != nil {
		return false
	}

	nb, err := NormalizeHost(b)
	if err != nil {
		return false
	}

	return na == nb
}

// GetOrigin returns the normalized host of an http(s) ID.
// The default port of the scheme is dropped.
func GetOrigin(id string) (string, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", err
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("invalid scheme in %s: %s", id, u.Scheme)
	}

	host := u.Host
	if port := u.Port(); (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		host = StripPort(host)
	}

	return NormalizeHost(host)
}

// GetHostname returns the normalized host name of an http(s) ID, without a port.
func GetHostname(id string) (string, error) {
	origin, err := GetOrigin(id)
	if err != nil {
		return "", err
	}

	return StripPort(origin), nil
}

// StripPort returns a host without its port.
func StripPort(host string) string {
	if name, _, err := net.SplitHostPort(host); err == nil {
		return name
	}
	return host
}

// LocalUserID extracts the ID of a local user from its actor URI, if href is one.
func LocalUserID(domain, href string) (string, bool) {
	origin, err := GetOrigin(href)
	if err != nil || !SameHost(origin, domain) {
		return "", false
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	id, ok := strings.CutPrefix(u.Path, "/users/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}

	return id, true
}

// LocalURI returns the actor URI of a local user.
func LocalURI(domain, id string) string {
	return fmt.Sprintf("https://%s/users/%s", domain, id)
}
