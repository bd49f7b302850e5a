// Package audit records security-relevant events: logins, channel
// membership changes and proxied calls.
package audit

import "log/slog"

// Hooks receives audit events. Implementations must be safe for concurrent
// use; callers invoke them from request goroutines.
type Hooks interface {
	AuthSuccess(username string)
	ChannelConnect(channel, username string)
	ChannelDisconnect(channel, username string)
	ProxyRequest(api, path, method, username string)
	ProxyResponse(api string, status int)
}

// Logger writes each event as one structured log record.
type Logger struct {
	log *slog.Logger
}

// NewLogger returns a Logger writing to log at info level.
func NewLogger(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Logger{log: log}
}

func (l *Logger) AuthSuccess(username string) {
	l.log.Info("authentication_success", "username", username)
}

func (l *Logger) ChannelConnect(channel, username string) {
	l.log.Info("websocket_connect", "channel", channel, "username", username)
}

func (l *Logger) ChannelDisconnect(channel, username string) {
	l.log.Info("websocket_disconnect", "channel", channel, "username", username)
}

func (l *Logger) ProxyRequest(api, path, method, username string) {
	l.log.Info("proxy_request", "api_name", api, "path", path, "method", method, "username", username)
}

func (l *Logger) ProxyResponse(api string, status int) {
	l.log.Info("proxy_response", "api_name", api, "status_code", status)
}

// Nop discards every event.
type Nop struct{}

func (Nop) AuthSuccess(string)                          {}
func (Nop) ChannelConnect(string, string)               {}
func (Nop) ChannelDisconnect(string, string)            {}
func (Nop) ProxyRequest(string, string, string, string) {}
func (Nop) ProxyResponse(string, int)                   {}

// Multi fans each event out to every non-nil hook, in order.
type Multi []Hooks

// NewMulti drops nil entries. It returns Nop when nothing remains.
func NewMulti(hooks ...Hooks) Hooks {
	out := make(Multi, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	switch len(out) {
	case 0:
		return Nop{}
	case 1:
		return out[0]
	}
	return out
}

func (m Multi) AuthSuccess(username string) {
	for _, h := range m {
		h.AuthSuccess(username)
	}
}

func (m Multi) ChannelConnect(channel, username string) {
	for _, h := range m {
		h.ChannelConnect(channel, username)
	}
}

func (m Multi) ChannelDisconnect(channel, username string) {
	for _, h := range m {
		h.ChannelDisconnect(channel, username)
	}
}

func (m Multi) ProxyRequest(api, path, method, username string) {
	for _, h := range m {
		h.ProxyRequest(api, path, method, username)
	}
}

func (m Multi) ProxyResponse(api string, status int) {
	for _, h := range m {
		h.ProxyResponse(api, status)
	}
}
