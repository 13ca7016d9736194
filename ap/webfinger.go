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

import "strings"

type WebFingerLink struct {
	Rel  string `json:"rel,omitempty"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// IsSelf determines whether or not a link points to the actor document.
func (l *WebFingerLink) IsSelf() bool {
	return strings.EqualFold(l.Rel, "self")
}

// WebFingerDocument is a JRD document returned by a WebFinger endpoint.
type WebFingerDocument struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

// Self returns the first self link with a non-empty href.
func (d *WebFingerDocument) Self() (WebFingerLink, bool) {
	for _, link := range d.Links {
		if link.IsSelf() && link.Href != "" {
			return link, true
		}
	}

	return WebFingerLink{}, false
}
