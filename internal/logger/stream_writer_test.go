package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/logstream"
	"github.com/rs/zerolog"
)

type mockPublisher struct {
	lines []logstream.Line
}

func (m *mockPublisher) Publish(line logstream.Line) {
	m.lines = append(m.lines, line)
}

func TestNewStreamWriter(t *testing.T) {
	pub := &mockPublisher{}
	writer := NewStreamWriter(pub)

	if writer.Publisher != pub {
		t.Errorf("Expected publisher to be set")
	}
	if writer.TimeFormat != defaultTimeFormat {
		t.Errorf("Expected default TimeFormat, got %s", writer.TimeFormat)
	}
	if len(writer.PartsOrder) != len(defaultPartsOrder()) {
		t.Errorf("Expected default PartsOrder")
	}
}

func TestNewStreamWriter_WithOptions(t *testing.T) {
	writer := NewStreamWriter(&mockPublisher{}, func(w *StreamWriter) {
		w.TimeFormat = "2006-01-02"
		w.PartsOrder = []string{zerolog.MessageFieldName}
	})

	if writer.TimeFormat != "2006-01-02" {
		t.Errorf("Expected custom TimeFormat, got %s", writer.TimeFormat)
	}
	if len(writer.PartsOrder) != 1 || writer.PartsOrder[0] != zerolog.MessageFieldName {
		t.Errorf("Expected custom PartsOrder")
	}
}

func TestLogMessage_Bytes(t *testing.T) {
	lm := LogMessage{Time: "12:00", Level: "INF", Message: "[SYNC] hello"}
	data, err := lm.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed: %v", err)
	}

	var decoded LogMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal bytes: %v", err)
	}
	if decoded != lm {
		t.Errorf("Decoded message mismatch. Got %+v, want %+v", decoded, lm)
	}
}

func TestStreamWriter_Write_NilPublisher(t *testing.T) {
	writer := StreamWriter{}
	n, err := writer.Write([]byte(`{"level":"info","message":"test","tag":"SYNC"}`))
	if err != nil {
		t.Errorf("Write() with nil publisher should not error, got %v", err)
	}
	if n != 0 {
		t.Errorf("Write() with nil publisher should return 0, got %d", n)
	}
}

func TestStreamWriter_Write_InvalidJSON(t *testing.T) {
	writer := NewStreamWriter(&mockPublisher{})
	if _, err := writer.Write([]byte(`invalid json`)); err == nil {
		t.Error("Write() with invalid JSON should error")
	}
}

func TestStreamWriter_Write_UntaggedIgnored(t *testing.T) {
	pub := &mockPublisher{}
	writer := NewStreamWriter(pub)

	data := []byte(`{"level":"info","message":"http request"}`)
	n, err := writer.Write(data)
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Write() returned %d, want %d", n, len(data))
	}
	if len(pub.lines) != 0 {
		t.Errorf("Expected no published lines, got %d", len(pub.lines))
	}
}

func TestStreamWriter_Write_Tagged(t *testing.T) {
	pub := &mockPublisher{}
	writer := NewStreamWriter(pub)

	logTime := time.Now().Truncate(time.Second)
	evt := map[string]interface{}{
		zerolog.TimestampFieldName: logTime.Format(zerolog.TimeFieldFormat),
		zerolog.LevelFieldName:     zerolog.LevelInfoValue,
		zerolog.MessageFieldName:   "Fetching followers",
		TagFieldName:               TagSync,
		"module":                   "sync",
		"account_id":               42,
	}
	data, _ := json.Marshal(evt)

	if _, err := writer.Write(data); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if len(pub.lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(pub.lines))
	}

	line := pub.lines[0]
	if line.Text != "[SYNC] Fetching followers account_id=42" {
		t.Errorf("Unexpected line text: %q", line.Text)
	}
	if line.Level != "INF" {
		t.Errorf("Expected level INF, got %s", line.Level)
	}
	if !line.Time.Equal(logTime) {
		t.Errorf("Expected time %v, got %v", logTime, line.Time)
	}
}

func TestStreamWriter_Write_ErrorTag(t *testing.T) {
	pub := &mockPublisher{}
	writer := NewStreamWriter(pub)

	data := []byte(`{"level":"error","message":"sync failed","tag":"SYNC","error":"RateLimited: slow down"}`)
	if _, err := writer.Write(data); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	want := `[SYNC ERROR] sync failed error="RateLimited: slow down"`
	if pub.lines[0].Text != want {
		t.Errorf("got %q, want %q", pub.lines[0].Text, want)
	}
}

func TestStreamTag(t *testing.T) {
	tests := []struct {
		tag, level, want string
	}{
		{TagSync, zerolog.LevelInfoValue, "SYNC"},
		{TagSync, zerolog.LevelErrorValue, "SYNC ERROR"},
		{"SYNC ERROR", zerolog.LevelErrorValue, "SYNC ERROR"},
		{TagImageCache, zerolog.LevelWarnValue, "IMG CACHE"},
	}
	for _, tt := range tests {
		if got := streamTag(tt.tag, tt.level); got != tt.want {
			t.Errorf("streamTag(%q, %q) = %q, want %q", tt.tag, tt.level, got, tt.want)
		}
	}
}

func TestNeedsQuote(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"simple", false},
		{"with space", true},
		{"with\"quote", true},
		{"with\\escape", true},
		{"with\x1fcontrol", true},
	}
	for _, tt := range tests {
		if got := needsQuote(tt.input); got != tt.want {
			t.Errorf("needsQuote(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestDefaultFormatters(t *testing.T) {
	tsFormatter := defaultFormatTimestamp(time.RFC3339)
	now := time.Now().Truncate(time.Second)
	formatted := tsFormatter(now.Format(zerolog.TimeFieldFormat))
	parsed, _ := time.Parse(time.RFC3339, formatted)
	if !parsed.Equal(now) {
		t.Errorf("defaultFormatTimestamp: expected %v, got %v", now.Format(time.RFC3339), formatted)
	}
	formattedNum := tsFormatter(json.Number(fmt.Sprintf("%d", now.Unix())))
	parsedNum, _ := time.Parse(time.RFC3339, formattedNum)
	if !parsedNum.Equal(now) {
		t.Errorf("defaultFormatTimestamp with number: got %v", formattedNum)
	}

	levelFormatter := defaultFormatLevel()
	if levelFormatter(zerolog.LevelInfoValue) != "INF" {
		t.Errorf("defaultFormatLevel: expected INF, got %s", levelFormatter(zerolog.LevelInfoValue))
	}
	if levelFormatter("unknown") != "unknown" {
		t.Errorf("defaultFormatLevel for unknown: got %s", levelFormatter("unknown"))
	}
	if levelFormatter(nil) != "???" {
		t.Errorf("defaultFormatLevel for nil: got %s", levelFormatter(nil))
	}

	if !strings.HasSuffix(defaultFormatCaller()("path/to/file.go:123"), "path/to/file.go:123 >") {
		t.Errorf("defaultFormatCaller: unexpected format %s", defaultFormatCaller()("path/to/file.go:123"))
	}
	if defaultFormatCaller()(nil) != "" {
		t.Errorf("defaultFormatCaller for nil should be empty")
	}

	if defaultFormatMessage("hello") != "hello" {
		t.Errorf("defaultFormatMessage: got %s", defaultFormatMessage("hello"))
	}
	if defaultFormatMessage(nil) != "" {
		t.Errorf("defaultFormatMessage for nil: got %s", defaultFormatMessage(nil))
	}

	if defaultFormatFieldName()("field") != "field=" {
		t.Errorf("defaultFormatFieldName: got %s", defaultFormatFieldName()("field"))
	}
	if defaultFormatFieldValue("with space") != `"with space"` {
		t.Errorf("defaultFormatFieldValue should quote: got %s", defaultFormatFieldValue("with space"))
	}
	if defaultFormatFieldValue(json.Number("12")) != "12" {
		t.Errorf("defaultFormatFieldValue number: got %s", defaultFormatFieldValue(json.Number("12")))
	}
	if defaultFormatErrFieldValue()("boom") != "boom" {
		t.Errorf("defaultFormatErrFieldValue: got %s", defaultFormatErrFieldValue()("boom"))
	}
}

func TestWriteFields_ErrorFirst(t *testing.T) {
	writer := NewStreamWriter(&mockPublisher{})
	buf := new(bytes.Buffer)
	evt := map[string]interface{}{
		zerolog.LevelFieldName:   zerolog.LevelWarnValue,
		zerolog.MessageFieldName: "warning message",
		"alpha":                  "a",
		"zulu":                   json.Number("3"),
		zerolog.ErrorFieldName:   "some error",
		TagFieldName:             TagSync,
	}

	writer.writeFields(buf, evt)

	want := ` error="some error" alpha=a zulu=3`
	if buf.String() != want {
		t.Errorf("writeFields got %q, want %q", buf.String(), want)
	}
}

func TestLogger_StreamsTaggedEvents(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	pub := &mockPublisher{}
	l := Mock().(*DefaultLogger)
	l.RegisterStreamWriter(pub)

	child := l.With().Str(TagFieldName, TagImageCache).Logger()
	child.Info().Msg("(1/3) Cached @someone")
	l.Info().Msg("not streamed")

	if len(pub.lines) != 1 {
		t.Fatalf("expected 1 streamed line, got %d", len(pub.lines))
	}
	if pub.lines[0].Text != "[IMG CACHE] (1/3) Cached @someone" {
		t.Errorf("unexpected line %q", pub.lines[0].Text)
	}
}
