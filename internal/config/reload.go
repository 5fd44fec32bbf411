package config

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// Source holds the current generation of a Config behind an atomic
// pointer, the way the teacher's caddy.Instance swaps in a new config on
// reload without disturbing connections already in flight (caddy.go's
// Start/Stop/graceful-restart machinery, simplified here to a single
// pointer swap since webserv has no listener handoff to perform: the
// loop keeps the same listening sockets across a reload, only the
// routing/location data changes for the *next* accepted connection).
type Source struct {
	path string
	cur  atomic.Pointer[Config]
	log  *zap.Logger
}

// NewSource loads path once and returns a Source wrapping the result.
func NewSource(path string, log *zap.Logger) (*Source, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path, log: log}
	s.cur.Store(cfg)
	return s, nil
}

// Current returns the active Config generation. Safe to call
// concurrently with WatchSignal's reload.
func (s *Source) Current() *Config {
	return s.cur.Load()
}

// WatchSignal installs a SIGHUP handler that reloads the config file and
// atomically swaps it in on success, leaving the previous generation (and
// any connection still using it) untouched on failure. Grounded in the
// teacher's cmd/commandfuncs.go cmdReload, simplified to this process's
// own signal handling since webserv has no separate admin socket to POST
// a reload to.
func (s *Source) WatchSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		for range ch {
			cfg, err := LoadFile(s.path)
			if err != nil {
				if s.log != nil {
					s.log.Error("config reload failed, keeping previous generation", zap.Error(err))
				}
				continue
			}
			s.cur.Store(cfg)
			if s.log != nil {
				s.log.Info("config reloaded", zap.String("path", s.path))
			}
		}
	}()
}
