package reconerr

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewError(t *testing.T) {
	err := New(ErrInvalidArgument, SeverityError, "voxel size must be positive")

	if err.Code != ErrInvalidArgument {
		t.Errorf("expected code %s, got %s", ErrInvalidArgument, err.Code)
	}
	if err.Severity != SeverityError {
		t.Errorf("expected severity %s, got %s", SeverityError, err.Severity)
	}
	if err.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if len(err.StackTrace) == 0 {
		t.Error("stack trace should be captured")
	}
}

func TestWrapError(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := Wrap(ErrInvalidState, SeverityError, "hashmap/pool mismatch", cause)

	if err.Cause != cause {
		t.Error("cause should be set")
	}
	if err.Unwrap() != cause {
		t.Error("unwrap should return cause")
	}
}

func TestErrorWithMetadata(t *testing.T) {
	err := New(ErrOutOfCapacity, SeverityWarning, "block pool exhausted").
		WithMetadata("capacity", 1024).
		WithMetadata("requested", 1025)

	if len(err.Metadata) != 2 {
		t.Errorf("expected 2 metadata entries, got %d", len(err.Metadata))
	}
	if v, ok := err.Metadata["capacity"].(int); !ok || v != 1024 {
		t.Error("metadata 'capacity' not set correctly")
	}
}

func TestRecoverableDefaults(t *testing.T) {
	warn := New(ErrNumericalWarning, SeverityWarning, "degenerate gradient")
	if !warn.Recoverable {
		t.Error("warning severity should default to recoverable")
	}

	critical := New(ErrInvalidState, SeverityCritical, "double free")
	if critical.Recoverable {
		t.Error("critical severity should default to non-recoverable")
	}

	overridden := New(ErrInvalidArgument, SeverityError, "bad argument").WithRecoverable(true)
	if !overridden.Recoverable {
		t.Error("WithRecoverable should override the default")
	}
}

func TestHandlerRecovers(t *testing.T) {
	handler := NewHandler(&SimpleLogger{})

	recovered := false
	handler.RegisterHandler(ErrOutOfCapacity, func(err *Error) error {
		recovered = true
		return nil
	})

	err := New(ErrOutOfCapacity, SeverityWarning, "pool exhausted")
	if result := handler.Handle(err); result != nil {
		t.Errorf("expected successful recovery, got %v", result)
	}
	if !recovered {
		t.Error("recovery handler should have run")
	}
}

func TestHandlerNonRecoverable(t *testing.T) {
	handler := NewHandler(&SimpleLogger{})

	err := New(ErrInvalidState, SeverityCritical, "broken invariant")
	if result := handler.Handle(err); result == nil {
		t.Error("critical errors should not be recovered automatically")
	}
}

func TestAggregator(t *testing.T) {
	agg := NewAggregator()
	if agg.HasErrors() {
		t.Error("new aggregator should be empty")
	}

	agg.Add(New(ErrNumericalWarning, SeverityWarning, "voxel 1 degenerate"))
	agg.Add(New(ErrNumericalWarning, SeverityWarning, "voxel 2 degenerate"))
	agg.Add(nil)

	if !agg.HasErrors() {
		t.Error("aggregator should report errors after Add")
	}
	if len(agg.Errors()) != 2 {
		t.Errorf("expected 2 errors, got %d", len(agg.Errors()))
	}
	if agg.HighestSeverity() != SeverityWarning {
		t.Errorf("expected highest severity WARNING, got %s", agg.HighestSeverity())
	}
}

func TestAggregatorEscalatesToCritical(t *testing.T) {
	agg := NewAggregator()
	agg.Add(New(ErrNumericalWarning, SeverityWarning, "minor"))
	agg.Add(New(ErrInvalidState, SeverityCritical, "fatal"))

	if agg.HighestSeverity() != SeverityCritical {
		t.Errorf("expected CRITICAL to dominate, got %s", agg.HighestSeverity())
	}
}

func TestAggregatorEmpty(t *testing.T) {
	agg := NewAggregator()
	if agg.Error() != "no errors" {
		t.Errorf("expected 'no errors', got %s", agg.Error())
	}
	if agg.HighestSeverity() != SeverityInfo {
		t.Error("empty aggregator should report INFO severity")
	}
}

func TestAggregatorConcurrentAdd(t *testing.T) {
	agg := NewAggregator()

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				agg.Add(New(ErrNumericalWarning, SeverityWarning, "saturated"))
			}
		}(w)
	}
	wg.Wait()

	if got, want := len(agg.Errors()), workers*perWorker; got != want {
		t.Errorf("expected %d aggregated errors, got %d", want, got)
	}
}

func TestAggregatorWrapsPlainErrors(t *testing.T) {
	agg := NewAggregator()
	agg.Add(fmt.Errorf("plain error"))

	if len(agg.Errors()) != 1 {
		t.Fatalf("expected 1 error, got %d", len(agg.Errors()))
	}
	if agg.Errors()[0].Code != ErrInvalidState {
		t.Errorf("plain errors should wrap as ErrInvalidState, got %s", agg.Errors()[0].Code)
	}
}

func TestHandleWrapsUnclassifiedErrors(t *testing.T) {
	handler := NewHandler(nil)
	result := handler.Handle(fmt.Errorf("boom"))
	if result == nil {
		t.Fatal("expected an error result")
	}
	rerr, ok := result.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", result)
	}
	if rerr.Code != ErrInvalidState {
		t.Errorf("expected ErrInvalidState, got %s", rerr.Code)
	}
}

func TestTimestampMonotonic(t *testing.T) {
	a := New(ErrInvalidArgument, SeverityError, "a")
	time.Sleep(time.Millisecond)
	b := New(ErrInvalidArgument, SeverityError, "b")
	if !b.Timestamp.After(a.Timestamp) {
		t.Error("later error should have a later timestamp")
	}
}

func BenchmarkNewError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = New(ErrInvalidArgument, SeverityError, "benchmark error")
	}
}

func BenchmarkWrapError(b *testing.B) {
	cause := fmt.Errorf("underlying")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Wrap(ErrInvalidState, SeverityError, "benchmark error", cause)
	}
}
