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
	"context"
	"database/sql"
	"reflect"
	"unsafe"
)

// QueryCollectRows runs a SQL query and returns all rows.
//
// If T is a struct, the columns of each row are assigned to visible fields of T, in order.
// Otherwise, each row must have a single column.
func QueryCollectRows[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collected []T
	if err := ScanRows(rows, func(row T) bool {
		collected = append(collected, row)
		return true
	}); err != nil {
		return nil, err
	}

	return collected, nil
}

func structFieldPtrs(t reflect.Type, base unsafe.Pointer) []any {
	fields := reflect.VisibleFields(t)
	ptrs := make([]any, len(fields))
	for i, field := range fields {
		ptrs[i] = reflect.NewAt(field.Type, unsafe.Add(base, field.Offset)).Interface()
	}

	return ptrs
}

// ScanRows calls collect for every row, until it returns false.
func ScanRows[T any](rows *sql.Rows, collect func(T) bool) error {
	var zero, row T

	var ptrs []any
	if t := reflect.TypeFor[T](); t.Kind() == reflect.Struct {
		ptrs = structFieldPtrs(t, unsafe.Pointer(&row))
	} else {
		ptrs = []any{&row}
	}

	for rows.Next() {
		row = zero

		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		if !collect(row) {
			break
		}
	}

	return rows.Err()
}
