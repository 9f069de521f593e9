package protocol

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	// CodeError marks a response synthesized from a transport failure.
	CodeError = -1
	// CodeStubbed marks a response from a backend that does not deliver.
	CodeStubbed = -2
)

// Response is the normalized outcome of a backend call.
type Response struct {
	Code    int
	Body    string
	Message string
}

// NewResponse builds a Response from an HTTP status code and body.
func NewResponse(code int, body []byte) *Response {
	return &Response{
		Code:    code,
		Body:    string(body),
		Message: http.StatusText(code),
	}
}

// ErrorResponse wraps a transport failure.
func ErrorResponse(err error) *Response {
	r := &Response{Code: CodeError}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// StubbedResponse is returned by backends that drop payloads on purpose.
func StubbedResponse() *Response {
	return &Response{Code: CodeStubbed, Message: "stubbed"}
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r != nil && r.Code >= 200 && r.Code < 300
}

// ErrorMessage returns the server supplied error from a JSON body of the
// form {"error": "..."}, falling back to Message.
func (r *Response) ErrorMessage() string {
	if r == nil {
		return ""
	}
	if strings.HasPrefix(strings.TrimSpace(r.Body), "{") {
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(r.Body), &body); err == nil && body.Error != "" {
			return body.Error
		}
	}
	return r.Message
}
