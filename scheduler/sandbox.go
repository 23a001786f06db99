package scheduler

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/newtownenergy/gridctl/storage"
)

// MaxScriptSize is the largest accepted script body, in bytes.
const MaxScriptSize = 10 * 1024

// ExecutionBudget is the hard wall-clock cutoff for a single script
// invocation, enforced preemptively through the interpreter's context
// cancellation hook rather than checked only after the call returns.
const ExecutionBudget = 100 * time.Millisecond

// SiteData is the read-only site context exposed to a script as the
// site_data global.
type SiteData struct {
	ID        int64
	Name      string
	CompanyID int64
	Latitude  *float64
	Longitude *float64
}

// ExecutionResult is the outcome of a single script invocation.
type ExecutionResult struct {
	State           storage.SiteState
	ExecutionTimeMs int64
	Err             error
}

// newSandbox builds a fresh interpreter instance with every
// filesystem/process/module/debug/network capability removed. A new
// instance is created per invocation; none of its state is shared
// across sites or requests.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"io", "os", "package", "debug", "require", "loadfile", "dofile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func injectDateTime(L *lua.LState, t time.Time) {
	tbl := L.NewTable()
	L.SetField(tbl, "year", lua.LNumber(t.Year()))
	L.SetField(tbl, "month", lua.LNumber(int(t.Month())))
	L.SetField(tbl, "day", lua.LNumber(t.Day()))
	L.SetField(tbl, "hour", lua.LNumber(t.Hour()))
	L.SetField(tbl, "minute", lua.LNumber(t.Minute()))
	L.SetField(tbl, "second", lua.LNumber(t.Second()))
	L.SetField(tbl, "weekday", lua.LNumber(isoWeekday(t)))
	L.SetField(tbl, "timestamp", lua.LNumber(t.UTC().Unix()))
	L.SetGlobal("datetime", tbl)
}

// isoWeekday returns 1=Monday..7=Sunday, matching the original scripting
// convention (chrono's number_from_monday).
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday()) // 0=Sunday..6=Saturday
	if wd == 0 {
		return 7
	}
	return wd
}

func injectSiteData(L *lua.LState, site SiteData) {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LNumber(site.ID))
	L.SetField(tbl, "name", lua.LString(site.Name))
	L.SetField(tbl, "company_id", lua.LNumber(site.CompanyID))
	if site.Latitude != nil {
		L.SetField(tbl, "latitude", lua.LNumber(*site.Latitude))
	}
	if site.Longitude != nil {
		L.SetField(tbl, "longitude", lua.LNumber(*site.Longitude))
	}
	L.SetGlobal("site_data", tbl)
}

// execute runs scriptContent under the sandbox with datetime/site_data
// injected, enforcing ExecutionBudget preemptively via the interpreter's
// context-cancellation hook (gopher-lua checks ctx.Done() at each VM
// instruction boundary). It never panics or escapes; every failure mode
// is reported through ExecutionResult.Err with State left at idle.
func execute(scriptContent string, t time.Time, site SiteData) ExecutionResult {
	if len(scriptContent) > MaxScriptSize {
		return ExecutionResult{State: storage.StateIdle, Err: fmt.Errorf("script exceeds maximum size of %d bytes", MaxScriptSize)}
	}

	L := newSandbox()
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), ExecutionBudget)
	defer cancel()
	L.SetContext(ctx)

	injectDateTime(L, t)
	injectSiteData(L, site)

	start := time.Now()
	err := L.DoString(scriptContent)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ExecutionResult{State: storage.StateIdle, ExecutionTimeMs: elapsed.Milliseconds(), Err: fmt.Errorf("script execution timed out")}
		}
		return ExecutionResult{State: storage.StateIdle, ExecutionTimeMs: elapsed.Milliseconds(), Err: fmt.Errorf("script execution error: %w", err)}
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return ExecutionResult{State: storage.StateIdle, ExecutionTimeMs: elapsed.Milliseconds()}
	case lua.LString:
		state := storage.SiteState(string(v))
		if state != storage.StateCharge && state != storage.StateDischarge && state != storage.StateIdle {
			return ExecutionResult{State: storage.StateIdle, ExecutionTimeMs: elapsed.Milliseconds(), Err: fmt.Errorf("invalid state returned by script: %q", string(v))}
		}
		return ExecutionResult{State: state, ExecutionTimeMs: elapsed.Milliseconds()}
	default:
		return ExecutionResult{State: storage.StateIdle, ExecutionTimeMs: elapsed.Milliseconds(), Err: fmt.Errorf("script must return a string")}
	}
}

// ValidationResult is the outcome of validating a script's syntax and a
// single trial execution.
type ValidationResult struct {
	IsValid       bool
	Err           error
	TestExecution *ExecutionResult
}

// Validate checks language, size, and syntax, then performs a single
// trial execution against now/site.
func Validate(script *storage.SchedulerScript, site SiteData) *ValidationResult {
	if script.Language != "lua" {
		return &ValidationResult{IsValid: false, Err: fmt.Errorf("unsupported script language: %s", script.Language)}
	}
	if len(script.ScriptContent) > MaxScriptSize {
		return &ValidationResult{IsValid: false, Err: fmt.Errorf("script exceeds maximum size of %d bytes", MaxScriptSize)}
	}

	L := newSandbox()
	defer L.Close()
	if _, err := L.LoadString(script.ScriptContent); err != nil {
		return &ValidationResult{IsValid: false, Err: fmt.Errorf("script compilation failed: %w", err)}
	}

	result := execute(script.ScriptContent, time.Now().UTC(), site)
	return &ValidationResult{IsValid: result.Err == nil, Err: result.Err, TestExecution: &result}
}
