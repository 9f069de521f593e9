package beacon

import (
	"net/http"
	"os"
	"reflect"
	"runtime"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Frame is a single line of a notice backtrace.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
	Package  string `json:"package,omitempty"`
}

// RequestInfo describes the HTTP request being served when a notice was
// created.
type RequestInfo struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	RemoteIP  string            `json:"remote_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// OSInfo identifies the operating system of the reporting process.
type OSInfo struct {
	Name          string `json:"name"`
	Arch          string `json:"arch"`
	Version       string `json:"version,omitempty"`
	KernelVersion string `json:"kernel_version,omitempty"`
}

// ServerInfo identifies the reporting process.
type ServerInfo struct {
	Hostname    string `json:"hostname,omitempty"`
	Environment string `json:"environment,omitempty"`
	PID         int    `json:"pid"`
	GoVersion   string `json:"go_version"`
	OS          OSInfo `json:"os"`
}

func newServerInfo(hostname, environment string) ServerInfo {
	return ServerInfo{
		Hostname:    hostname,
		Environment: environment,
		PID:         os.Getpid(),
		GoVersion:   runtime.Version(),
		OS:          osInfo(),
	}
}

// Notice is an error report.
type Notice struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Class     string                 `json:"class"`
	Message   string                 `json:"message"`
	Backtrace []Frame                `json:"backtrace"`
	Tags      map[string]string      `json:"tags,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Request   *RequestInfo           `json:"request,omitempty"`
	Server    ServerInfo             `json:"server"`
}

func (n *Notice) PayloadID() string {
	return n.ID
}

// NoticeOption customizes a Notice before it is queued.
type NoticeOption func(*Notice)

// WithTags adds tags to the notice. They take precedence over tags carried
// by the context.
func WithTags(tags map[string]string) NoticeOption {
	return func(n *Notice) {
		if n.Tags == nil {
			n.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			n.Tags[k] = v
		}
	}
}

// WithContextData attaches arbitrary key/value context to the notice.
func WithContextData(key string, value interface{}) NoticeOption {
	return func(n *Notice) {
		if n.Context == nil {
			n.Context = make(map[string]interface{})
		}
		n.Context[key] = value
	}
}

// WithClass overrides the class derived from the reported error.
func WithClass(class string) NoticeOption {
	return func(n *Notice) {
		n.Class = class
	}
}

// WithRequest records the HTTP request being served.
func WithRequest(r *http.Request) NoticeOption {
	return func(n *Notice) {
		if r == nil {
			return
		}
		n.Request = &RequestInfo{
			URL:       r.URL.String(),
			Method:    r.Method,
			RemoteIP:  r.RemoteAddr,
			UserAgent: r.UserAgent(),
		}
	}
}

// WithRequestInfo records a request described by a framework that does not
// use net/http.
func WithRequestInfo(info *RequestInfo) NoticeOption {
	return func(n *Notice) {
		n.Request = info
	}
}

// newNotice builds a notice from err. When err carries no stack, the
// backtrace starts skip frames above the caller of newNotice.
func newNotice(err interface{}, skip int, server ServerInfo) *Notice {
	wrapped := goerrors.Wrap(err, skip+1)

	frames := wrapped.StackFrames()
	backtrace := make([]Frame, 0, len(frames))
	for _, f := range frames {
		backtrace = append(backtrace, Frame{
			File:     f.File,
			Line:     f.LineNumber,
			Function: f.Name,
			Package:  f.Package,
		})
	}

	return &Notice{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Class:     errorClass(err),
		Message:   wrapped.Error(),
		Backtrace: backtrace,
		Server:    server,
	}
}

func errorClass(err interface{}) string {
	cause, ok := err.(error)
	if !ok {
		return "panic"
	}
	if e, ok := cause.(*goerrors.Error); ok {
		cause = e.Err
	}
	cause = errors.Cause(cause)
	return reflect.TypeOf(cause).String()
}
