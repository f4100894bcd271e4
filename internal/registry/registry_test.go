package registry

import (
	"sync"
	"testing"

	"github.com/ChuLiYu/ember-engine/internal/faults"
	"github.com/ChuLiYu/ember-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reported struct {
	code  faults.ErrorCode
	fatal bool
	extra int
}

type recordingReporter struct {
	mu    sync.Mutex
	calls []reported
}

func (r *recordingReporter) ReportError(code faults.ErrorCode, isFatal bool, context string, extra int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reported{code: code, fatal: isFatal, extra: extra})
}

func (r *recordingReporter) reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// TestStateNamesComplete 每個合法狀態都有穩定且唯一的名稱
func TestStateNamesComplete(t *testing.T) {
	rep := &recordingReporter{}
	reg := New(rep)
	seen := make(map[string]types.PrintEngineState)

	for _, s := range States() {
		name := reg.StateName(s)
		require.NotEmpty(t, name, "state %d has no name", s)
		assert.Equal(t, name, reg.StateName(s), "name must be stable")

		prev, dup := seen[name]
		assert.False(t, dup, "name %q used by %d and %d", name, prev, s)
		seen[name] = s

		parsed, ok := ParseState(name)
		require.True(t, ok)
		assert.Equal(t, s, parsed)
	}

	assert.Len(t, seen, int(types.MaxPrintEngineState)-1)
	assert.Empty(t, rep.calls)
}

func TestSubStateNamesComplete(t *testing.T) {
	rep := &recordingReporter{}
	reg := New(rep)

	for u := types.NoUISubState; u < types.MaxUISubState; u++ {
		name := reg.SubStateName(u)
		require.NotEmpty(t, name, "substate %d has no name", u)

		parsed, ok := ParseSubState(name)
		require.True(t, ok)
		assert.Equal(t, u, parsed)
	}
	assert.Empty(t, rep.calls)
}

func TestCanonicalNames(t *testing.T) {
	reg := New(nil)
	assert.Equal(t, "PrinterOn", reg.StateName(types.PrinterOnState))
	assert.Equal(t, "GettingFeedback", reg.StateName(types.GettingFeedbackState))
	assert.Equal(t, "PrintingLayer", reg.StateName(types.PrintingLayerState))
	assert.Equal(t, "NoUISubState", reg.SubStateName(types.NoUISubState))
	assert.Equal(t, "USBDriveFileFound", reg.SubStateName(types.USBDriveFileFound))
}

// TestOutOfRangeState 超出範圍：回傳空字串且恰好回報一次
func TestOutOfRangeState(t *testing.T) {
	rep := &recordingReporter{}
	reg := New(rep)

	ids := []types.PrintEngineState{
		types.UndefinedPrintEngineState,
		types.MaxPrintEngineState,
		types.PrintEngineState(-1),
		types.PrintEngineState(255),
	}

	for _, id := range ids {
		rep.reset()
		assert.Equal(t, "", reg.StateName(id))
		require.Len(t, rep.calls, 1, "id %d", id)
		assert.Equal(t, faults.UnknownPrintEngineState, rep.calls[0].code)
		assert.False(t, rep.calls[0].fatal)
		assert.Equal(t, int(id), rep.calls[0].extra)
	}
}

func TestOutOfRangeSubState(t *testing.T) {
	rep := &recordingReporter{}
	reg := New(rep)

	for _, id := range []types.UISubState{types.MaxUISubState, types.UISubState(-1), types.UISubState(200)} {
		rep.reset()
		assert.Equal(t, "", reg.SubStateName(id))
		require.Len(t, rep.calls, 1)
		assert.Equal(t, faults.UnknownPrintEngineSubState, rep.calls[0].code)
	}
}

func TestLookupDoesNotReport(t *testing.T) {
	_, ok := LookupState(types.PrintEngineState(99))
	assert.False(t, ok)
	_, ok = LookupSubState(types.MaxUISubState)
	assert.False(t, ok)

	_, ok = ParseState("NotAState")
	assert.False(t, ok)
	_, ok = ParseSubState("")
	assert.False(t, ok)
}

func TestConcurrentLookups(t *testing.T) {
	reg := New(&recordingReporter{})
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range States() {
				assert.NotEmpty(t, reg.StateName(s))
			}
		}()
	}
	wg.Wait()
}
