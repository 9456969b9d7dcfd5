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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatabaseWriteReadRoundTrip(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("k", map[string]any{"a": float64(1)})

	v, err := db.Read("k")
	r.NoError(err)
	r.True(valuesEqual(v, map[string]any{"a": float64(1)}))
}

func TestDatabaseReadMissingKey(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	_, err := db.Read("missing")
	r.Error(err)
	ae, ok := asACIError(err)
	r.True(ok)
	r.Equal(errNotFound, ae.kind)
}

func TestDatabaseAllKeysSorted(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	for _, k := range []string{"zebra", "apple", "mango"} {
		db.Write(k, "x")
	}
	r.Equal([]string{"apple", "mango", "zebra"}, db.AllKeys())
	r.Equal(3, db.KeyCount())
}

func TestDatabaseWriteIndexPads(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("list", []any{})
	r.NoError(db.WriteIndex("list", 2, "x"))

	v, err := db.Read("list")
	r.NoError(err)
	arr, ok := asArray(v)
	r.True(ok)
	r.Len(arr, 3)
	r.Nil(arr[0])
	r.Nil(arr[1])
	r.Equal("x", arr[2])
}

func TestDatabaseWriteIndexNeverShrinks(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("list", []any{"a", "b", "c"})
	r.NoError(db.WriteIndex("list", 1, "B"))

	v, err := db.Read("list")
	r.NoError(err)
	r.True(valuesEqual(v, []any{"a", "B", "c"}))
}

func TestDatabaseReadIndexOutOfRange(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("list", []any{"a"})
	_, err := db.ReadIndex("list", 5)
	r.Error(err)
	ae, ok := asACIError(err)
	r.True(ok)
	r.Equal(errIndexOutOfRange, ae.kind)
}

func TestDatabaseReadIndexNotArray(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("scalar", "hi")
	_, err := db.ReadIndex("scalar", 0)
	r.Error(err)
	ae, ok := asACIError(err)
	r.True(ok)
	r.Equal(errNotArray, ae.kind)
}

func TestDatabaseAppendIsMonotonic(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("list", []any{})

	idx0, err := db.Append("list", "a")
	r.NoError(err)
	r.Equal(0, idx0)

	idx1, err := db.Append("list", "b")
	r.NoError(err)
	r.Equal(1, idx1)

	length, err := db.Length("list")
	r.NoError(err)
	r.Equal(2, length)
}

func TestDatabaseLastNOrderPreserved(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("list", []any{"a", "b", "c", "d"})

	v, err := db.LastN("list", 2)
	r.NoError(err)
	r.True(valuesEqual(v, []any{"c", "d"}))

	v, err = db.LastN("list", 100)
	r.NoError(err)
	r.True(valuesEqual(v, []any{"a", "b", "c", "d"}))

	v, err = db.LastN("list", 0)
	r.NoError(err)
	r.True(valuesEqual(v, []any{}))
}

func TestDatabaseConcurrentAppend(t *testing.T) {
	r := require.New(t)

	db := NewDatabase("test")
	db.Write("list", []any{})

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := db.Append("list", "x")
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	length, err := db.Length("list")
	r.NoError(err)
	r.Equal(n, length)
}
