// Package common holds the configuration types and the logger setup shared by
// the library packages and the command line.
//
// Loggers are created through dragonboat's logger registry, one per subsystem
// (see LoggerNames). InitLoggers sets all of them to the same level.
package common
