// logger.go
package main

import (
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Log levels, lowest to highest. The active level comes from LOG_LEVEL
// (default "info"); anything below it is dropped.
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var currentLogLevel = levelInfo

func initLogLevel() {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		currentLogLevel = levelDebug
	case "warn", "warning":
		currentLogLevel = levelWarn
	case "error":
		currentLogLevel = levelError
	default:
		currentLogLevel = levelInfo
	}
}

func LogDebug(format string, args ...interface{}) {
	if currentLogLevel <= levelDebug {
		log.Printf("🔍 "+format, args...)
	}
}

func LogInfo(format string, args ...interface{}) {
	if currentLogLevel <= levelInfo {
		log.Printf(format, args...)
	}
}

func LogWarn(format string, args ...interface{}) {
	if currentLogLevel <= levelWarn {
		log.Printf("⚠️ "+format, args...)
	}
}

func LogError(format string, args ...interface{}) {
	if currentLogLevel <= levelError {
		log.Printf("❌ "+format, args...)
	}
}

// generateRequestID returns a short id for correlating logs across the
// async processing of one request.
func generateRequestID() string {
	return uuid.NewString()[:8]
}
