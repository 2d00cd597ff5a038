// Package test provides helpers for the msistream test suite.
package test

import (
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// Assert fails the test if the condition is false.
func Assert(tb testing.TB, condition bool, msg string, v ...interface{}) {
	tb.Helper()
	if !condition {
		tb.Fatalf(msg, v...)
	}
}

// OK fails the test if an err is not nil.
func OK(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("unexpected error: %+v", err)
	}
}

// OKs fails the test if any error from errs is not nil.
func OKs(tb testing.TB, errs []error) {
	tb.Helper()
	errFound := false
	for _, err := range errs {
		if err != nil {
			errFound = true
			tb.Errorf("unexpected error: %+v", err)
		}
	}
	if errFound {
		tb.FailNow()
	}
}

// Equals fails the test if exp is not equal to act.
func Equals(tb testing.TB, exp, act interface{}, msgs ...string) {
	tb.Helper()
	if !reflect.DeepEqual(exp, act) {
		var msg string
		if len(msgs) > 0 {
			msg = ": " + msgs[0]
		}
		tb.Fatalf("exp: %#v\n\ngot: %#v%v", exp, act, msg)
	}
}

// Random returns a []byte of len bytes of pseudo-random data derived from the
// seed.
func Random(seed, count int) []byte {
	p := make([]byte, count)

	rnd := rand.New(rand.NewSource(int64(seed)))

	for i := 0; i < len(p); i += 8 {
		val := rnd.Int63()
		var data = []byte{
			byte((val >> 0) & 0xff),
			byte((val >> 8) & 0xff),
			byte((val >> 16) & 0xff),
			byte((val >> 24) & 0xff),
			byte((val >> 32) & 0xff),
			byte((val >> 40) & 0xff),
			byte((val >> 48) & 0xff),
			byte((val >> 56) & 0xff),
		}

		for j := range data {
			cur := i + j
			if cur >= len(p) {
				break
			}
			p[cur] = data[j]
		}
	}

	return p
}

// TempDir returns a temporary directory that is removed by t.Cleanup.
func TempDir(t testing.TB) string {
	t.Helper()
	tempdir, err := os.MkdirTemp("", "msistream-test-")
	OK(t, err)

	t.Cleanup(func() {
		RemoveAll(t, tempdir)
	})

	// resolve symlinks in the path, macOS puts temp dirs below /var which is
	// a link to /private/var
	resolved, err := filepath.EvalSymlinks(tempdir)
	OK(t, err)

	return resolved
}

// RemoveAll recursively removes the path, failing the test on error.
func RemoveAll(t testing.TB, path string) {
	t.Helper()
	OK(t, os.RemoveAll(path))
}

// Env overwrites an environment variable for the duration of the test.
func Env(t testing.TB, k, v string) {
	t.Helper()
	t.Setenv(k, v)
}
