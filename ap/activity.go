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

// Activity is an already rendered activity document.
//
// Values must be the generic types produced by [encoding/json]: JSON-LD
// canonicalization walks the document without knowing its schema.
type Activity map[string]any

// ID returns the activity ID, or an empty string.
func (a Activity) ID() string {
	if id, ok := a["id"].(string); ok {
		return id
	}
	return ""
}

// Clone returns a shallow copy of an activity.
func (a Activity) Clone() Activity {
	c := make(Activity, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}
