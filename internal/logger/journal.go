package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Journal appends one JSON object per line to a file in the log directory.
// A nil Journal discards everything.
type Journal struct {
	name   string
	logger *log.Logger
	file   *os.File
	once   sync.Once
}

func NewJournal(dir, name string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create journal directory")
	}

	file, err := os.OpenFile(filepath.Join(dir, name+".jl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", name)
	}

	logger := log.New()
	logger.SetOutput(file)
	logger.SetLevel(log.InfoLevel)
	logger.SetFormatter(&log.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
		FieldMap:        log.FieldMap{log.FieldKeyTime: "timestamp"},
	})

	return &Journal{name: name, logger: logger, file: file}, nil
}

func (j *Journal) Write(message string, fields map[string]any) {
	if j == nil {
		return
	}
	j.logger.WithFields(fields).WithField("name", j.name).WithTime(time.Now().UTC()).Info(message)
}

func (j *Journal) WriteError(message string, fields map[string]any) {
	if j == nil {
		return
	}
	j.logger.WithFields(fields).WithField("name", j.name).WithTime(time.Now().UTC()).Error(message)
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.once.Do(func() {
		err = j.file.Close()
	})
	return err
}
