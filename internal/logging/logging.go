package logging

import (
	"os"
	"sort"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "parley",
})

// SetDebug raises verbosity for troubleshooting runs.
func SetDebug() { logger.SetLevel(log.DebugLevel) }

func flatten(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}

func Debug(msg string, fields map[string]any) { logger.Debug(msg, flatten(fields)...) }
func Info(msg string, fields map[string]any)  { logger.Info(msg, flatten(fields)...) }
func Warn(msg string, fields map[string]any)  { logger.Warn(msg, flatten(fields)...) }
func Error(msg string, fields map[string]any) { logger.Error(msg, flatten(fields)...) }
