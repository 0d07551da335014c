package logx

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

const (
	red    = 31
	green  = 32
	yellow = 33
	blue   = 36

	defaultTimeFormat = "2006-01-02 15:04:05.000"
	templateColored   = "\x1b[%dm%s\x1b[0m"
)

var (
	spewfmt = &spew.ConfigState{
		Indent:                  "  ",
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		DisableMethods:          false,
		DisablePointerMethods:   true,
	}

	levels = map[logrus.Level]string{
		logrus.PanicLevel: "PANIC",
		logrus.FatalLevel: "FATAL",
		logrus.ErrorLevel: "ERROR",
		logrus.WarnLevel:  "WARN ",
		logrus.InfoLevel:  "INFO ",
		logrus.DebugLevel: "DEBUG",
		logrus.TraceLevel: "TRACE",
	}
)

type format struct {
	name  string
	color bool
}

func (f *format) Format(entry *logrus.Entry) ([]byte, error) {
	sb := &strings.Builder{}
	sb.WriteString(entry.Time.Format(defaultTimeFormat))
	sb.WriteRune(' ')
	sb.WriteString(f.level(entry.Level))
	sb.WriteString(" [")
	sb.WriteString(f.name)
	sb.WriteString("] ")
	sb.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		keys = append(keys, key)
	}

	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteRune(' ')
		sb.WriteString(key)
		sb.WriteRune('=')
		sb.WriteString(dump(entry.Data[key]))
	}

	if last, _ := utf8.DecodeLastRuneInString(sb.String()); last != '\n' {
		sb.WriteRune('\n')
	}

	return []byte(sb.String()), nil
}

func (f *format) level(l logrus.Level) string {
	if !f.color {
		return levels[l]
	}

	var color int
	switch l {
	case logrus.InfoLevel:
		color = green
	case logrus.WarnLevel:
		color = yellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		color = red
	default:
		color = blue
	}

	return fmt.Sprintf(templateColored, color, levels[l])
}

func dump(value interface{}) string {
	switch v := value.(type) {
	case string:
		if strings.ContainsAny(v, " \t\n\"") {
			return fmt.Sprintf("%q", v)
		}

		return v
	case error:
		return fmt.Sprintf("%q", v.Error())
	case fmt.Stringer:
		return v.String()
	case int, int64, uint, uint64, float64, bool:
		return fmt.Sprint(v)
	default:
		return strings.TrimSpace(spewfmt.Sdump(v))
	}
}
