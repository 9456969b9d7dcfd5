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

import "reflect"

// value is the universal JSON payload stored under a key: nil, bool,
// float64/json.Number, string, []any or map[string]any, as produced by
// encoding/json. It is aliased only to document intent at call sites.
type value = any

// valuesEqual reports whether two decoded JSON values are identical. This
// is the equality used by the round-trip property: write(k, v) followed
// by read(k) must return something valuesEqual to v.
func valuesEqual(a, b value) bool {
	return reflect.DeepEqual(a, b)
}

// itemKind labels a value the way the disk codec's item files do: "table"
// for arrays, "obj" for objects, "string" for everything else (numbers,
// booleans, strings, null are all lumped together — this is a labeling
// hint for readers of the on-disk format, not a type system).
func itemKind(v value) string {
	switch v.(type) {
	case []any:
		return "table"
	case map[string]any:
		return "obj"
	default:
		return "string"
	}
}

// asArray returns v as a []any and true if v is array-shaped.
func asArray(v value) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}
