// Package logx contains a named logger registry on top of github.com/sirupsen/logrus.
//
// # Configuration
//
// Each logger is resolved by name against Config.Custom and falls back to
// Config.Default. Loggers are created lazily and cached, so repeated calls to
// Get with the same name return the same instance.
package logx

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type (
	// Ptr is an alias for *logrus.Logger.
	Ptr = *logrus.Logger

	// V is an alias for logrus.Fields.
	V = logrus.Fields
)

type Registry struct {
	config  Config
	loggers sync.Map
	files   sync.Map
}

func NewRegistry(config Config) *Registry {
	return &Registry{config: config}
}

var global = NewRegistry(DefaultConfig)

// Configure replaces the global registry.
func Configure(config Config) {
	global = NewRegistry(config)
}

// Get a logger with the specified name from the global registry.
func Get(name string) Ptr {
	return global.Get(name)
}

func (r *Registry) Get(name string) Ptr {
	if logger, ok := r.loggers.Load(name); ok {
		return logger.(Ptr)
	}

	logger, _ := r.loggers.LoadOrStore(name, r.create(name))
	return logger.(Ptr)
}

func (r *Registry) create(name string) Ptr {
	config := r.config.get(name)
	logger := logrus.New()
	logger.SetFormatter(&format{name: name, color: config.Color})

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)

	writers := make([]io.Writer, 0, len(config.Output))
	for _, output := range config.Output {
		writer, err := r.output(output)
		if err != nil {
			logrus.WithError(err).Warnf("logx: skip output %s for %s", output, name)
			continue
		}

		writers = append(writers, writer)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(os.Stderr)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	return logger
}

func (r *Registry) output(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	}

	if file, ok := r.files.Load(output); ok {
		return file.(io.Writer), nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}

	actual, loaded := r.files.LoadOrStore(output, file)
	if loaded {
		_ = file.Close()
	}

	return actual.(io.Writer), nil
}

// Close closes file outputs opened by the registry.
func (r *Registry) Close() error {
	var err error
	r.files.Range(func(key, value interface{}) bool {
		if closeErr := value.(*os.File).Close(); closeErr != nil && err == nil {
			err = closeErr
		}

		return true
	})

	return err
}
