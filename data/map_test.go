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

package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedMap_StoreKeepsFirst(t *testing.T) {
	assert := assert.New(t)

	m := OrderedMap[string, bool]{}
	m.Store("b", false)
	m.Store("a", true)
	m.Store("b", true)

	assert.Equal([]string{"b", "a"}, m.Keys())

	v, ok := m.Get("b")
	assert.True(ok)
	assert.False(v)
}

func TestOrderedMap_SetReplaces(t *testing.T) {
	assert := assert.New(t)

	m := OrderedMap[string, bool]{}
	m.Set("b", false)
	m.Set("a", false)
	m.Set("b", true)

	assert.Equal([]string{"b", "a"}, m.Keys())

	v, ok := m.Get("b")
	assert.True(ok)
	assert.True(v)

	_, ok = m.Get("c")
	assert.False(ok)
}

func TestOrderedMap_All(t *testing.T) {
	assert := assert.New(t)

	m := OrderedMap[string, int]{}
	m.Store("c", 3)
	m.Store("a", 1)
	m.Store("b", 2)

	var keys []string
	for k, v := range m.All() {
		keys = append(keys, k)
		if v == 1 {
			break
		}
	}

	assert.Equal([]string{"c", "a"}, keys)
}
