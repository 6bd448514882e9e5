// Package wordcount is the one built-in application for this module: a
// pure map/reduce function pair with no I/O, matching the teacher's
// test_test.go MapFunc/ReduceFunc.
package wordcount

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xzhseh/mrlease/internal/worker"
)

// Map splits contents into words and emits one (word, "1") pair per
// occurrence. filename is unused but kept to match the map function
// signature shared by every application.
func Map(filename, contents string) []worker.KeyValue {
	fields := strings.FieldsFunc(contents, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	kva := make([]worker.KeyValue, 0, len(fields))
	for _, w := range fields {
		kva = append(kva, worker.KeyValue{Key: w, Value: "1"})
	}
	return kva
}

// Reduce sums the occurrence counts for a single key.
func Reduce(key string, values []string) string {
	return fmt.Sprintf("%d", len(values))
}
