package log

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("VOXDROP_LOG_PATH", "/tmp/voxdrop-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/voxdrop-env-log" {
		t.Errorf("got %q, want /tmp/voxdrop-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("VOXDROP_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "voxdrop") {
		t.Errorf("default directory %q should mention voxdrop", got)
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(""); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{diagFileName, transcribeFileName} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestInitRejectsBadLevel(t *testing.T) {
	setupLogDir(t)
	if err := Init("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestEventsLandInDiagnostics(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init("debug"); err != nil {
		t.Fatal(err)
	}

	SessionTransition("reviewing", "uploading")
	UploadCompleted("msg_1", 2048, 3*time.Second, 40*time.Millisecond)
	UploadFailed(errors.New("upload incomplete"))
	TranscriptionOutcome("msg_1", "transcribed", "groq", time.Second, nil)
	InviteIssued("msg_1", "reader", time.Time{})
	Request("GET", "/message/msg_1", 200, time.Millisecond)
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, diagFileName))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"session_transition", "upload_completed", "upload_failed", "transcription_outcome", "invite_issued", "request", "msg_1"} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestLevelFilters(t *testing.T) {
	tmp := setupLogDir(t)
	if err := Init("warn"); err != nil {
		t.Fatal(err)
	}
	Info("quiet_event")
	Warn("loud_event")
	Close()

	data, err := os.ReadFile(filepath.Join(tmp, diagFileName))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "quiet_event") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(string(data), "loud_event") {
		t.Error("warn line missing")
	}
}

func TestTranscriptionText(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(""); err != nil {
		t.Fatal(err)
	}

	TranscriptionText("msg_1", "hello world")

	data, err := os.ReadFile(filepath.Join(tmp, transcribeFileName))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "hello world") || !strings.Contains(line, "msg_1") {
		t.Errorf("transcribe_log.txt missing text, got: %q", line)
	}
	// format: "2006-01-02 15:04:05\t[pid]\tid\ttext\n"
	if strings.Count(line, "\t") != 3 {
		t.Errorf("expected tab-separated format, got: %q", line)
	}
}

func TestCallsBeforeInitAreNoops(t *testing.T) {
	Info("nothing")
	UploadFailed(errors.New("x"))
	TranscriptionText("msg_1", "nothing")
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(""); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
