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
	"strings"
)

// SoftFail is a set of deviations between a requested URL, the URL that was
// actually fetched and the ID claimed by the fetched document.
type SoftFail uint

const (
	// Strict tolerates no deviation.
	Strict SoftFail = 0

	// NonCanonicalID is set when the claimed ID differs from the requested or the final URL.
	NonCanonicalID SoftFail = 1 << 0

	// MisalignedOrigin is set when the claimed ID belongs to a subdomain of the requested host.
	MisalignedOrigin SoftFail = 1 << 1

	// CrossOrigin is set when the claimed ID belongs to an unrelated host.
	// Federation loops must never tolerate it.
	CrossOrigin SoftFail = 1 << 2

	// Any tolerates every deviation.
	Any = NonCanonicalID | MisalignedOrigin | CrossOrigin
)

func (f SoftFail) String() string {
	if f == Strict {
		return "strict"
	}

	var names []string
	if f&NonCanonicalID != 0 {
		names = append(names, "non-canonical-id")
	}
	if f&MisalignedOrigin != 0 {
		names = append(names, "misaligned-origin")
	}
	if f&CrossOrigin != 0 {
		names = append(names, "cross-origin")
	}
	return strings.Join(names, "|")
}

// OriginCheck is the result of [CheckOrigin].
type OriginCheck struct {
	Pass bool

	// Deviations lists every deviation found, including tolerated ones.
	Deviations SoftFail

	// Err is set when one of the URLs is malformed; such a check never passes.
	Err error
}

// CheckOrigin decides whether or not a fetched document is trustworthy.
//
// requested is the URL that was asked for, final is the URL fetched after
// redirects and claimed is the ID inside the document. The check passes only
// if every deviation found is tolerated by policy.
func CheckOrigin(requested, final, claimed string, policy SoftFail) OriginCheck {
	if claimed == "" {
		return OriginCheck{Err: errors.New("unspecified ID")}
	}

	requestedHost, err := GetOrigin(requested)
	if err != nil {
		return OriginCheck{Err: fmt.Errorf("invalid requested URL: %w", err)}
	}

	if _, err := GetOrigin(final); err != nil {
		return OriginCheck{Err: fmt.Errorf("invalid final URL: %w", err)}
	}

	claimedHost, err := GetOrigin(claimed)
	if err != nil {
		return OriginCheck{Err: fmt.Errorf("invalid ID: %w", err)}
	}

	var deviations SoftFail

	if claimed != final || claimed != requested {
		deviations |= NonCanonicalID
	}

	if claimedHost != requestedHost {
		if strings.HasSuffix(claimedHost, "."+requestedHost) {
			deviations |= MisalignedOrigin
		} else {
			deviations |= MisalignedOrigin | CrossOrigin
		}
	}

	return OriginCheck{
		Pass:       deviations&^policy == 0,
		Deviations: deviations,
	}
}
