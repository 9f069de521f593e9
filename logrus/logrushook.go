// Package beaconlogrus provides a logrus hook that reports log entries as
// notices.
package beaconlogrus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	beacon "github.com/beaconhq/beacon-go"
)

// These default log field keys carry notice metadata. If they are found in
// the log fields with the expected type, they are removed from the notice
// context and applied to the notice itself.
//
// These keys may be overridden by calling SetKey on the hook.
const (
	// FieldRequest holds an *http.Request or a beacon.RequestInfo.
	FieldRequest = "request"
	// FieldTags holds a map[string]string.
	FieldTags = "tags"
	// FieldClass holds a string that overrides the notice class.
	FieldClass = "class"

	// These fields are dropped, the notice already reports them.
	FieldGoVersion = "go_version"
	FieldMaxProcs  = "go_maxprocs"

	// entryClass is the class of entries logged without an error.
	entryClass = "logrus"
)

// A FallbackFunc can be used to attempt to handle any errors in logging,
// before resorting to logrus's standard error reporting.
type FallbackFunc func(*logrus.Entry) error

// Hook is the logrus hook.
//
// It is not safe to configure the hook while logging is happening. Please
// perform all configuration before using it.
type Hook struct {
	dispatcher *beacon.Dispatcher
	fallback   FallbackFunc
	keys       map[string]string
	tags       map[string]string
	levels     []logrus.Level
}

var _ logrus.Hook = (*Hook)(nil)

// New returns a hook reporting entries of the given levels to d. With no
// levels, error, fatal and panic entries are reported.
func New(levels []logrus.Level, d *beacon.Dispatcher) *Hook {
	if d == nil {
		panic("beaconlogrus: a Dispatcher is required")
	}
	if len(levels) == 0 {
		levels = []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
	}
	return &Hook{
		dispatcher: d,
		levels:     levels,
		keys:       make(map[string]string),
		tags:       make(map[string]string),
	}
}

// AddTags adds tags to every notice sent by the hook.
func (h *Hook) AddTags(tags map[string]string) {
	for k, v := range tags {
		h.tags[k] = v
	}
}

func (h *Hook) SetFallback(fb FallbackFunc) {
	h.fallback = fb
}

// SetKey sets an alternate field key for oldKey. An empty newKey restores
// the default.
func (h *Hook) SetKey(oldKey, newKey string) {
	if oldKey == "" {
		return
	}
	if newKey == "" {
		delete(h.keys, oldKey)
		return
	}
	delete(h.keys, newKey)
	h.keys[oldKey] = newKey
}

func (h *Hook) key(key string) string {
	if val := h.keys[key]; val != "" {
		return val
	}
	return key
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

// Fire queues entry as a notice. An error is returned, or the fallback is
// called, when the notice queue refuses it.
func (h *Hook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := h.entryToNotice(entry)
	if _, ok := h.dispatcher.Notify(ctx, err, opts...); !ok {
		if h.fallback != nil {
			return h.fallback(entry)
		}
		return errors.New("failed to queue notice")
	}
	return nil
}

// entryToNotice returns the notice options for entry and the error to report.
func (h *Hook) entryToNotice(entry *logrus.Entry) ([]beacon.NoticeOption, error) {
	data := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		data[k] = v
	}

	opts := []beacon.NoticeOption{beacon.WithContextData("level", entry.Level.String())}
	if len(h.tags) > 0 {
		opts = append(opts, beacon.WithTags(h.tags))
	}

	key := h.key(FieldRequest)
	switch request := data[key].(type) {
	case *http.Request:
		delete(data, key)
		opts = append(opts, beacon.WithRequest(request))
	case beacon.RequestInfo:
		delete(data, key)
		opts = append(opts, beacon.WithRequestInfo(&request))
	case *beacon.RequestInfo:
		delete(data, key)
		opts = append(opts, beacon.WithRequestInfo(request))
	}

	key = h.key(FieldTags)
	if tags, ok := data[key].(map[string]string); ok {
		delete(data, key)
		opts = append(opts, beacon.WithTags(tags))
	}

	err, hasErr := data[logrus.ErrorKey].(error)
	if hasErr {
		delete(data, logrus.ErrorKey)
		opts = append(opts, beacon.WithContextData("message", entry.Message))
	} else {
		err = errors.New(entry.Message)
		opts = append(opts, beacon.WithClass(entryClass))
	}

	key = h.key(FieldClass)
	if class, ok := data[key].(string); ok {
		delete(data, key)
		opts = append(opts, beacon.WithClass(class))
	}

	delete(data, FieldGoVersion)
	delete(data, FieldMaxProcs)
	for k, v := range data {
		if e, ok := v.(error); ok {
			v = e.Error()
		} else if s, ok := v.(fmt.Stringer); ok {
			v = s.String()
		}
		opts = append(opts, beacon.WithContextData(k, v))
	}
	return opts, err
}

// Flush waits until queued notices have been delivered.
func (h *Hook) Flush(timeout time.Duration) bool {
	return h.dispatcher.Flush(timeout, beacon.FeatureNotices)
}

// FlushWithContext waits until queued notices have been delivered or ctx is
// done.
func (h *Hook) FlushWithContext(ctx context.Context) bool {
	return h.dispatcher.FlushWithContext(ctx, beacon.FeatureNotices)
}
