// Package logging provides leveled logging on top of the standard log
// package, optionally routed to a rotating log file.
package logging

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	SilentMode
)

var mode = InfoMode

// SetLogMode sets the severity required for a message to be printed.
// It must be called before logging starts.
func SetLogMode(m ModeFlag) {
	mode = m
}

func Mode() ModeFlag {
	return mode
}

type Config struct {
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"max_log_size" toml:"max_log_size"`
	MaxAge  int    `yaml:"max_log_age" toml:"max_log_age"`
}

// SetLogger sends log messages to a rotating log file. The returned function
// closes the file. Without a file name messages go to stderr.
func (c *Config) SetLogger() func() error {
	if c == nil || c.Logfile == "" {
		return func() error { return nil }
	}
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(l)
	return l.Close
}

func Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		log.Printf(" DEBUG "+format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		log.Printf(" INFO "+format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		log.Printf(" WARNING "+format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		log.Printf(" ERROR "+format, args...)
	}
}

// Fatalf logs regardless of the mode and exits.
func Fatalf(format string, args ...interface{}) {
	log.Fatalf(" FATAL %s", fmt.Sprintf(format, args...))
}
