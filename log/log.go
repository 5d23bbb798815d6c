package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagFileName       = "diagnostics_log.txt"
	transcribeFileName = "transcribe_log.txt"
)

var (
	diagLog        zerolog.Logger
	diagWriter     *lumberjack.Logger
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// Metrics are the per-request timings of a transcription call.
type Metrics struct {
	AudioLengthS float64
	AudioSizeKB  float64
	DNSTimeMs    float64
	ConnTimeMs   float64
	TLSTimeMs    float64
	TTFBMs       float64
	TotalTimeMs  float64
	ConnReused   bool
	TLSProto     string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: VOXDROP_LOG_PATH environment variable
	if envPath := os.Getenv("VOXDROP_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// Init opens the log files in Dir. level is a zerolog level name; empty
// means info.
func Init(level string) error {
	logMu.Lock()
	defer logMu.Unlock()

	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
		lvl = parsed
	}

	if err := EnsureDir(); err != nil {
		return err
	}
	pid = os.Getpid()

	var err error
	transcribeFile, err = os.OpenFile(filepath.Join(dir, transcribeFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	diagWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, diagFileName),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagWriter,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(lvl).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	diagLog.Info().Str("level", lvl.String()).Msg("log_opened")
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagWriter != nil {
		diagWriter.Close()
		diagWriter = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionTransition(from, to string) {
	if !logReady {
		return
	}
	diagLog.Debug().Str("from", from).Str("to", to).Msg("session_transition")
}

func UploadCompleted(recordID string, size int, audio, took time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("record", recordID).
		Float64("size_kb", float64(size)/1024).
		Float64("audio_s", audio.Seconds()).
		Int64("total_ms", took.Milliseconds()).
		Msg("upload_completed")
}

func UploadFailed(err error) {
	if !logReady {
		return
	}
	diagLog.Error().Err(err).Msg("upload_failed")
}

func TranscriptionOutcome(recordID, outcome, provider string, took time.Duration, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("record", recordID).
		Str("outcome", outcome).
		Str("provider", provider).
		Int64("total_ms", took.Milliseconds()).
		Msg("transcription_outcome")
}

func TranscriptionMetrics(m Metrics, provider string) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("provider", provider).
		Str("conn", connStatus)
	if m.TLSProto != "" {
		ev = ev.Str("tls_proto", m.TLSProto)
	}
	ev.Float64("audio_s", m.AudioLengthS).
		Float64("audio_kb", m.AudioSizeKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("conn_ms", m.ConnTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("transcription")
}

// TranscriptionText appends one line to the transcript log.
func TranscriptionText(recordID, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcribeFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, recordID, text)
	transcribeFile.WriteString(line)
}

func InviteIssued(recordID, role string, expires time.Time) {
	if !logReady {
		return
	}
	ev := diagLog.Info().Str("record", recordID).Str("role", role)
	if !expires.IsZero() {
		ev = ev.Time("expires", expires)
	}
	ev.Msg("invite_issued")
}

func Request(method, path string, status int, took time.Duration) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if status >= 500 {
		ev = diagLog.Error()
	}
	ev.Str("method", method).
		Str("path", path).
		Int("status", status).
		Float64("ms", float64(took.Microseconds())/1000).
		Msg("request")
}
