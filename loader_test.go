package statehub

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func states[V any](vals []LoadStatus[V]) []LoadState {
	out := make([]LoadState, len(vals))
	for i, v := range vals {
		out[i] = v.State
	}
	return out
}

func TestLoader_StartsIdle(t *testing.T) {
	l := NewLoader(func(ctx context.Context) (int, error) { return 1, nil })

	st := l.Status()
	if st.State != LoadIdle || st.Fetching || st.HasData || st.Error != "" {
		t.Errorf("Status() = %+v, want idle without data", st)
	}
}

func TestLoader_SuccessCycle(t *testing.T) {
	l := NewLoader(func(ctx context.Context) ([]string, error) {
		return []string{"p1", "p2"}, nil
	}, Logger(quietLogger()))

	var got recorder[LoadStatus[[]string]]
	sub := l.Subscribe(got.record)
	defer sub.Close()

	data, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checkIDs(t, "loaded", data, "p1", "p2")

	vals := got.values()
	want := []LoadState{LoadIdle, LoadFetching, LoadSucceeded}
	if got := states(vals); !slices.Equal(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	if !vals[1].Fetching {
		t.Error("fetching status has Fetching = false")
	}
	if vals[2].Fetching || !vals[2].HasData {
		t.Errorf("succeeded status = %+v", vals[2])
	}
	checkIDs(t, "succeeded data", vals[2].Data, "p1", "p2")
}

func TestLoader_FailureKeepsEarlierData(t *testing.T) {
	fail := false
	l := NewLoader(func(ctx context.Context) (int, error) {
		if fail {
			return 0, errBackend
		}
		return 7, nil
	}, Named("users"), Logger(quietLogger()))

	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	fail = true
	_, err := l.Load(context.Background())
	if err == nil || err.Error() != "Something Went Wrong!" {
		t.Fatalf("Load() error = %v, want %q", err, "Something Went Wrong!")
	}
	if !errors.Is(err, ErrNetwork) || !errors.Is(err, errBackend) {
		t.Errorf("Load() error = %v, want network kind wrapping the backend error", err)
	}

	st := l.Status()
	if st.State != LoadFailed || st.Error != "Something Went Wrong!" {
		t.Errorf("Status() = %+v, want failed with message", st)
	}
	if !st.HasData || st.Data != 7 {
		t.Errorf("Status() data = (%v, %d), want earlier data 7", st.HasData, st.Data)
	}

	fail = false
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st := l.Status(); st.State != LoadSucceeded || st.Error != "" {
		t.Errorf("Status() = %+v, want succeeded with error cleared", st)
	}
}

func TestLoader_KeepsKindOfDomainError(t *testing.T) {
	l := NewLoader(func(ctx context.Context) (int, error) {
		return 0, &Error{Kind: KindNotFound, Op: "list"}
	}, Logger(quietLogger()), FailureMessage("Could not load users."))

	_, err := l.Load(context.Background())
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf() = %v, want not_found", KindOf(err))
	}
	if err == nil || err.Error() != "Could not load users." {
		t.Errorf("Load() error = %v, want custom message", err)
	}
	if got := l.Status().Error; got != "Could not load users." {
		t.Errorf("Status().Error = %q", got)
	}
}

func TestLoader_NewerLoadSupersedesOlder(t *testing.T) {
	started := make(chan struct{})
	calls := 0
	l := NewLoader(func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			close(started)
			<-ctx.Done()
			return "stale", ctx.Err()
		}
		return "fresh", nil
	}, Logger(quietLogger()))

	first := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background())
		first <- err
	}()
	<-started

	data, err := l.Load(context.Background())
	if err != nil || data != "fresh" {
		t.Fatalf("Load() = (%q, %v), want fresh", data, err)
	}

	select {
	case err := <-first:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("superseded Load() error = %v, want ErrSuperseded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("superseded load did not return")
	}

	if st := l.Status(); st.State != LoadSucceeded || st.Data != "fresh" {
		t.Errorf("Status() = %+v, want succeeded with fresh data", st)
	}
}

func TestLoader_RecordsMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	fail := false
	l := NewLoader(func(ctx context.Context) (int, error) {
		if fail {
			return 0, errBackend
		}
		return 1, nil
	}, Named("places"), Logger(quietLogger()), Instrumented(m))

	_, _ = l.Load(context.Background())
	fail = true
	_, _ = l.Load(context.Background())

	for _, result := range []string{"ok", "failed"} {
		got := counterValue(t, reg, "statehub_loader_loads_total",
			map[string]string{"collection": "places", "result": result})
		if got != 1 {
			t.Errorf("loads{result=%s} = %v, want 1", result, got)
		}
	}
}

func TestLoadStatus_JSON(t *testing.T) {
	st := LoadStatus[int]{State: LoadFailed, Error: "Something Went Wrong!"}

	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(b)
	for _, want := range []string{`"state":"failed"`, `"error":"Something Went Wrong!"`} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON %s missing %s", out, want)
		}
	}
	if strings.Contains(out, "Data") {
		t.Errorf("JSON %s exposes Data field name", out)
	}
}

func TestLoadState_String(t *testing.T) {
	tests := []struct {
		state LoadState
		want  string
	}{
		{LoadIdle, "idle"},
		{LoadFetching, "fetching"},
		{LoadSucceeded, "succeeded"},
		{LoadFailed, "failed"},
		{LoadState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("LoadState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
