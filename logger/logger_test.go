package logger

import "testing"

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	log := New(INFO, tmpDir, 100)
	defer log.Close()

	log.Error("error message")
	log.Warn("warn message")
	log.Info("info message")
	log.Debug("debug message") // filtered out
	log.Trace("trace message") // filtered out

	buf := log.Buffer()
	if len(buf) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(buf))
	}
	if buf[0].Level != ERROR || buf[1].Level != WARN || buf[2].Level != INFO {
		t.Errorf("unexpected level sequence: %+v", buf)
	}
}

func TestLoggerContext(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	log := New(INFO, tmpDir, 100)
	defer log.Close()

	log.Info("test message", "site_id", 7, "state", "charge")

	buf := log.Buffer()
	if len(buf) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(buf))
	}
	if buf[0].Context["site_id"] != 7 || buf[0].Context["state"] != "charge" {
		t.Errorf("unexpected context: %+v", buf[0].Context)
	}
}

func TestWarnRateLimited(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	log := New(WARN, tmpDir, 100)
	defer log.Close()

	for i := 0; i < 5; i++ {
		log.WarnRateLimited("script-timeout:site-1", 1000000000, "script timed out")
	}

	if got := len(log.Buffer()); got != 1 {
		t.Errorf("expected exactly 1 rate-limited entry, got %d", got)
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]Level{
		"ERROR":   ERROR,
		"WARN":    WARN,
		"INFO":    INFO,
		"DEBUG":   DEBUG,
		"TRACE":   TRACE,
		"bogus":   INFO,
		"":        INFO,
	}
	for in, want := range cases {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
