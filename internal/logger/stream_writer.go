package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/logstream"
	"github.com/rs/zerolog"
)

// TagFieldName marks an event for the live log stream. Components set it on
// their child logger, e.g. With().Str(TagFieldName, TagSync).
const TagFieldName = "tag"

const (
	TagSync       = "SYNC"
	TagImageCache = "IMG CACHE"
	TagAuth       = "AUTH"
	TagSocial     = "SOCIAL"
)

const defaultTimeFormat = time.Kitchen

// LinePublisher receives rendered stream lines.
type LinePublisher interface {
	Publish(line logstream.Line)
}

// LogMessage is the JSON shape of one streamed line.
type LogMessage struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (m LogMessage) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// StreamWriter is a zerolog writer that renders tagged events as
// "[TAG] message key=value" lines and hands them to a LinePublisher.
// Events without a tag are ignored.
type StreamWriter struct {
	Publisher  LinePublisher
	TimeFormat string
	PartsOrder []string
}

func defaultPartsOrder() []string {
	return []string{
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}
}

func NewStreamWriter(p LinePublisher, options ...func(w *StreamWriter)) StreamWriter {
	w := StreamWriter{
		Publisher:  p,
		TimeFormat: defaultTimeFormat,
		PartsOrder: defaultPartsOrder(),
	}

	for _, opt := range options {
		opt(&w)
	}

	return w
}

func (w StreamWriter) Write(p []byte) (n int, err error) {
	if w.Publisher == nil {
		return 0, nil
	}

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		return n, fmt.Errorf("cannot decode event: %s", err)
	}

	tag, _ := evt[TagFieldName].(string)
	if tag == "" {
		return len(p), nil
	}

	levelName, _ := evt[zerolog.LevelFieldName].(string)

	buf := new(bytes.Buffer)
	buf.WriteString("[")
	buf.WriteString(streamTag(tag, levelName))
	buf.WriteString("]")

	for _, part := range w.PartsOrder {
		w.writePart(buf, evt, part)
	}
	w.writeFields(buf, evt)

	ts := time.Now()
	if raw, ok := evt[zerolog.TimestampFieldName].(string); ok {
		if parsed, err := time.Parse(zerolog.TimeFieldFormat, raw); err == nil {
			ts = parsed
		}
	}

	w.Publisher.Publish(logstream.Line{
		Time:  ts,
		Level: defaultFormatLevel()(evt[zerolog.LevelFieldName]),
		Text:  strings.TrimSpace(buf.String()),
	})

	return len(p), nil
}

// streamTag turns SYNC into SYNC ERROR for error and fatal events.
func streamTag(tag, level string) string {
	switch level {
	case zerolog.LevelErrorValue, zerolog.LevelFatalValue, zerolog.LevelPanicValue:
		if !strings.HasSuffix(tag, " ERROR") {
			return tag + " ERROR"
		}
	}
	return tag
}

func (w StreamWriter) writeFields(buf *bytes.Buffer, evt map[string]interface{}) {
	fields := make([]string, 0, len(evt))
	for field := range evt {
		switch field {
		case zerolog.LevelFieldName, zerolog.TimestampFieldName, zerolog.MessageFieldName,
			zerolog.CallerFieldName, zerolog.ErrorStackFieldName, TagFieldName, "module":
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	// error goes first so it is visible in narrow log panes
	if idx := sort.SearchStrings(fields, zerolog.ErrorFieldName); idx < len(fields) && fields[idx] == zerolog.ErrorFieldName {
		fields = append([]string{zerolog.ErrorFieldName}, append(fields[:idx], fields[idx+1:]...)...)
	}

	for _, field := range fields {
		buf.WriteByte(' ')
		if field == zerolog.ErrorFieldName {
			buf.WriteString(defaultFormatErrFieldName()(field))
			buf.WriteString(defaultFormatErrFieldValue()(evt[field]))
			continue
		}
		buf.WriteString(defaultFormatFieldName()(field))
		buf.WriteString(defaultFormatFieldValue(evt[field]))
	}
}

func (w StreamWriter) writePart(buf *bytes.Buffer, evt map[string]interface{}, p string) {
	var s string
	switch p {
	case zerolog.LevelFieldName:
		s = defaultFormatLevel()(evt[p])
	case zerolog.TimestampFieldName:
		s = defaultFormatTimestamp(w.TimeFormat)(evt[p])
	case zerolog.MessageFieldName:
		s = defaultFormatMessage(evt[p])
	case zerolog.CallerFieldName:
		s = defaultFormatCaller()(evt[p])
	default:
		s = defaultFormatFieldValue(evt[p])
	}

	if len(s) > 0 {
		buf.WriteByte(' ')
		buf.WriteString(s)
	}
}

// needsQuote returns true when the string s should be quoted in output.
func needsQuote(s string) bool {
	for i := range s {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == ' ' || s[i] == '\\' || s[i] == '"' {
			return true
		}
	}
	return false
}

func defaultFormatTimestamp(timeFormat string) zerolog.Formatter {
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	return func(i interface{}) string {
		t := "<nil>"
		switch tt := i.(type) {
		case string:
			ts, err := time.Parse(zerolog.TimeFieldFormat, tt)
			if err != nil {
				t = tt
			} else {
				t = ts.Local().Format(timeFormat)
			}
		case json.Number:
			i, err := tt.Int64()
			if err != nil {
				t = tt.String()
			} else {
				t = time.Unix(i, 0).Local().Format(timeFormat)
			}
		}
		return t
	}
}

func defaultFormatLevel() zerolog.Formatter {
	return func(i interface{}) string {
		ll, ok := i.(string)
		if !ok {
			return "???"
		}
		switch ll {
		case zerolog.LevelTraceValue:
			return "TRC"
		case zerolog.LevelDebugValue:
			return "DBG"
		case zerolog.LevelInfoValue:
			return "INF"
		case zerolog.LevelWarnValue:
			return "WRN"
		case zerolog.LevelErrorValue:
			return "ERR"
		case zerolog.LevelFatalValue:
			return "FTL"
		case zerolog.LevelPanicValue:
			return "PNC"
		}
		return ll
	}
}

func defaultFormatCaller() zerolog.Formatter {
	return func(i interface{}) string {
		c, ok := i.(string)
		if !ok || c == "" {
			return ""
		}
		if cwd, err := os.Getwd(); err == nil {
			if rel, err := filepath.Rel(cwd, c); err == nil {
				c = rel
			}
		}
		return c + " >"
	}
}

func defaultFormatMessage(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%s", i)
}

func defaultFormatFieldName() zerolog.Formatter {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}

func defaultFormatFieldValue(i interface{}) string {
	switch v := i.(type) {
	case string:
		if needsQuote(v) {
			return strconv.Quote(v)
		}
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func defaultFormatErrFieldName() zerolog.Formatter {
	return func(i interface{}) string {
		return fmt.Sprintf("%s=", i)
	}
}

func defaultFormatErrFieldValue() zerolog.Formatter {
	return func(i interface{}) string {
		return defaultFormatFieldValue(i)
	}
}
