/*
 * Copyright 2024 ACRONYM Group.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aciserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValuesEqual(t *testing.T) {
	r := require.New(t)

	r.True(valuesEqual(nil, nil))
	r.True(valuesEqual(float64(3), float64(3)))
	r.True(valuesEqual("hi", "hi"))
	r.True(valuesEqual([]any{"a", float64(1)}, []any{"a", float64(1)}))
	r.True(valuesEqual(map[string]any{"a": float64(1)}, map[string]any{"a": float64(1)}))

	r.False(valuesEqual(float64(3), float64(4)))
	r.False(valuesEqual([]any{"a"}, []any{"b"}))
	r.False(valuesEqual(nil, float64(0)))
}

func TestValueRoundTripsThroughJSON(t *testing.T) {
	r := require.New(t)

	cases := []value{
		nil, true, false, float64(42), "hello",
		[]any{float64(1), "two", nil},
		map[string]any{"nested": []any{map[string]any{"x": float64(1)}}},
	}
	for _, c := range cases {
		data, err := json.Marshal(c)
		r.NoError(err)
		var out value
		r.NoError(json.Unmarshal(data, &out))
		r.True(valuesEqual(c, out), "round trip of %v produced %v", c, out)
	}
}

func TestItemKind(t *testing.T) {
	r := require.New(t)

	r.Equal("table", itemKind([]any{float64(1)}))
	r.Equal("obj", itemKind(map[string]any{"a": float64(1)}))
	r.Equal("string", itemKind("hi"))
	r.Equal("string", itemKind(float64(1)))
	r.Equal("string", itemKind(nil))
}

func TestAsArray(t *testing.T) {
	r := require.New(t)

	arr, ok := asArray([]any{float64(1), float64(2)})
	r.True(ok)
	r.Len(arr, 2)

	_, ok = asArray(map[string]any{})
	r.False(ok)

	_, ok = asArray("not an array")
	r.False(ok)
}
