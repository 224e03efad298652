package errors_test

import (
	"bytes"
	"context"
	"encoding/gob"
	goerrors "errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/arborstate/vstate/errors"
)

func TestError(t *testing.T) {
	cause := goerrors.New("no such ordinal")
	e1 := errors.E(errors.UnknownType, "looking up type", cause)
	if got, want := e1.Error(), "looking up type: unknown type: no such ordinal"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	e2 := errors.E(cause)
	if got, want := e2.Error(), "no such ordinal"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(errors.UnknownType, e1) {
		t.Errorf("error %v should be UnknownType", e1)
	}
}

func TestErrorChaining(t *testing.T) {
	cause := goerrors.New("short read")
	err := errors.E("failed to decode block", errors.TruncatedStream, cause)
	err = errors.E(errors.Retriable, "cannot finish restore", err)
	if got, want := err.Error(), "cannot finish restore: truncated stream (retriable):\n\tfailed to decode block: short read"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

type temporaryError string

func (t temporaryError) Error() string   { return string(t) }
func (t temporaryError) Temporary() bool { return true }

func TestIsTemporary(t *testing.T) {
	for _, c := range []struct {
		err       error
		temporary bool
	}{
		{errors.E(context.DeadlineExceeded), true},
		{errors.E(context.Canceled), false},
		{goerrors.New("no idea"), false},
		{temporaryError(""), true},
		{errors.E(temporaryError(""), errors.DeltaMismatch), true},
		{errors.E(errors.Temporary, "failed to fetch delta"), true},
		{errors.E("no idea"), false},
		{errors.E(errors.Fatal, "fatal error"), false},
		{errors.E(errors.Retriable, "this one you can retry"), true},
		{errors.E(fmt.Errorf("test")), false},
	} {
		if got, want := errors.IsTemporary(c.err), c.temporary; got != want {
			t.Errorf("error %v: got %v, want %v", c.err, got, want)
		}
		if c.temporary {
			continue
		}
		if !errors.IsTemporary(errors.E(c.err, errors.Temporary)) {
			t.Errorf("error %v: temporary conversion failed", c.err)
		}
	}
}

func TestGobEncoding(t *testing.T) {
	cause := goerrors.New("short read")
	err := errors.E("failed to decode block", cause)
	err = errors.E(errors.Fatal, "cannot finish restore", err)

	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(errors.Recover(err)); err != nil {
		t.Fatal(err)
	}
	e2 := new(errors.Error)
	if err := gob.NewDecoder(&b).Decode(e2); err != nil {
		t.Fatal(err)
	}
	if !errors.Match(err, e2) {
		t.Errorf("error %v does not match %v", err, e2)
	}
}

func TestGobEncodingRoundTrips(t *testing.T) {
	kinds := []errors.Kind{
		errors.Other, errors.UnknownType, errors.DuplicateType,
		errors.PhaseViolation, errors.RestoreRejected, errors.DeltaMismatch,
		errors.TruncatedStream, errors.WorkerFailure, errors.VersionUnsupported,
	}
	severities := []errors.Severity{errors.Retriable, errors.Temporary, errors.Unknown, errors.Fatal}
	for _, kind := range kinds {
		for _, sev := range severities {
			orig := &errors.Error{
				Kind:     kind,
				Severity: sev,
				Message:  "a message",
				Err:      &errors.Error{Kind: errors.Other, Message: "inner"},
			}
			var b bytes.Buffer
			if err := gob.NewEncoder(&b).Encode(orig); err != nil {
				t.Fatal(err)
			}
			decoded := new(errors.Error)
			if err := gob.NewDecoder(&b).Decode(decoded); err != nil {
				t.Fatal(err)
			}
			if !errors.Match(orig, decoded) {
				t.Errorf("kind %v severity %v: %v does not match %v", kind, sev, orig, decoded)
			}
		}
	}
}

func TestMessage(t *testing.T) {
	for _, c := range []struct {
		err     error
		message string
	}{
		{errors.E("hello"), "hello"},
		{errors.E("hello", "world"), "hello world"},
	} {
		if got, want := c.err.Error(), c.message; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestStdInterop(t *testing.T) {
	tests := []struct {
		name    string
		makeErr func() (cleanUp func(), _ error)
		kind    errors.Kind
		target  error
	}{
		{
			"canceled",
			func() (cleanUp func(), _ error) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				<-ctx.Done()
				return func() {}, ctx.Err()
			},
			errors.Canceled,
			context.Canceled,
		},
		{
			"timeout",
			func() (cleanUp func(), _ error) {
				ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Minute))
				<-ctx.Done()
				return cancel, ctx.Err()
			},
			errors.Timeout,
			context.DeadlineExceeded,
		},
		{
			"timeout interface",
			func() (cleanUp func(), _ error) {
				return func() {}, apparentTimeoutError{}
			},
			errors.Timeout,
			nil, // Doesn't match a stdlib error.
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cleanUp, err := test.makeErr()
			defer cleanUp()
			for errIdx, err := range []error{
				err,
				errors.E(err),
				errors.E(err, "wrapped", errors.Fatal),
			} {
				t.Run(strconv.Itoa(errIdx), func(t *testing.T) {
					if got, want := errors.Is(test.kind, err), true; got != want {
						t.Errorf("got %v, want %v", got, want)
					}
					if test.target != nil {
						if got, want := goerrors.Is(err, test.target), true; got != want {
							t.Errorf("got %v, want %v", got, want)
						}
					}
					// err should not match wrapped target.
					if got, want := goerrors.Is(err, fmt.Errorf("%w", test.target)), false; got != want {
						t.Errorf("got %v, want %v", got, want)
					}
				})
			}
		})
	}
}

type apparentTimeoutError struct{}

func (e apparentTimeoutError) Error() string { return "timeout" }
func (e apparentTimeoutError) Timeout() bool { return true }

// TestEKindDeterminism ensures that errors.E's Kind detection (based on the
// cause chain of the input error) is deterministic: if the input error
// matches multiple std kinds, E must choose consistently.
func TestEKindDeterminism(t *testing.T) {
	const N = 100
	numKind := make(map[errors.Kind]int)
	for i := 0; i < N; i++ {
		err := errors.E(
			fmt.Errorf("%w",
				errors.E("canceled", errors.Canceled,
					fmt.Errorf("%w", context.DeadlineExceeded))))
		if got, want := goerrors.Is(err, context.DeadlineExceeded), true; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := goerrors.Is(err, context.Canceled), true; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		numKind[err.(*errors.Error).Kind]++
	}
	if got, want := len(numKind), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := numKind[errors.Canceled], N; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
