package cgi

import (
	"fmt"
	"strings"

	"github.com/webserv/webserv/internal/config"
	"github.com/webserv/webserv/internal/httpmsg"
)

// RequestEnv carries the request details needed to build a CGI child's
// environment, kept separate from httpmsg.Request so the cgi package
// doesn't need to know the wire format.
type RequestEnv struct {
	Method        string
	Path          string
	Query         string
	ScriptFile    string
	ContentType   string
	ContentLength int
	RemoteAddr    string
	ServerName    string
	ServerPort    string
	Headers       map[string]string
}

// BuildEnviron constructs the CGI/1.1 variable set spec section 4.6
// requires: REQUEST_METHOD, SCRIPT_FILENAME, QUERY_STRING, CONTENT_LENGTH
// (when a body is present), and REDIRECT_STATUS=200 (the standard
// php-cgi guard against direct script invocation), plus the handful of
// SERVER_*/REMOTE_* variables every CGI script expects to find.
func BuildEnviron(r RequestEnv, loc *config.Location) []string {
	env := []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"SERVER_PROTOCOL=HTTP/1.1",
		"SERVER_SOFTWARE=webserv/0.1",
		"REDIRECT_STATUS=200",
		"REQUEST_METHOD=" + r.Method,
		"SCRIPT_FILENAME=" + r.ScriptFile,
		"SCRIPT_NAME=" + r.Path,
		"PATH_INFO=" + r.Path,
		"QUERY_STRING=" + r.Query,
		"SERVER_NAME=" + r.ServerName,
		"SERVER_PORT=" + r.ServerPort,
		"REMOTE_ADDR=" + r.RemoteAddr,
	}
	if r.ContentType != "" {
		env = append(env, "CONTENT_TYPE="+r.ContentType)
	}
	if r.ContentLength > 0 {
		env = append(env, fmt.Sprintf("CONTENT_LENGTH=%d", r.ContentLength))
	}
	for name, value := range r.Headers {
		env = append(env, "HTTP_"+headerEnvName(name)+"="+value)
	}
	return env
}

// RequestEnvFromMessage fills in the wire-facing fields of RequestEnv
// from a parsed request. ServerName, ServerPort and RemoteAddr are left
// empty; the event loop passes the result on unchanged, so SERVER_NAME,
// SERVER_PORT and REMOTE_ADDR are exported with empty values.
func RequestEnvFromMessage(req *httpmsg.Request, scriptFile, path, query string) RequestEnv {
	contentType, _ := req.Header("Content-Type")
	return RequestEnv{
		Method:        req.Method,
		Path:          path,
		Query:         query,
		ScriptFile:    scriptFile,
		ContentType:   contentType,
		ContentLength: len(req.Body),
		Headers:       req.Headers,
	}
}

func headerEnvName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
