package flowpilot

import (
	"fmt"
	"log"
	"runtime"
	"sort"
	"strings"
)

type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			fullStack := make([]byte, 8096)
			n := runtime.Stack(fullStack, false)
			fullStack = fullStack[:n]

			cleanedStack := cleanStackTrace(fullStack)

			logger(funcName, err, cleanedStack, fields...)
		}
	}
}

// RecoverToError converts a recovered panic into an error after logging
// it. Use as `defer RecoverToError(logger, "name", &err)` with a named
// return so handler panics surface as ordinary failures.
func RecoverToError(logger PanicLogger, funcName string, errp *error, fields ...map[string]any) {
	if rec := recover(); rec != nil {
		fullStack := make([]byte, 8096)
		n := runtime.Stack(fullStack, false)

		if logger == nil {
			logger = DefaultPanicLogger
		}
		logger(funcName, rec, cleanStackTrace(fullStack[:n]), fields...)

		*errp = WrapError("PanicError", fmt.Sprintf("recovered from panic in %s: %v", funcName, rec), nil)
	}
}

func DefaultPanicLogger(funcName string, err any, stack []byte, fields ...map[string]any) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[FATAL] recovered from panic in %s\n", funcName))

	sb.WriteString(fmt.Sprintf("Error: %v\n", err))
	sb.WriteString(fmt.Sprintf("Error Type: %T\n", err))

	if len(fields) > 0 && fields[0] != nil {
		sb.WriteString("Context:\n")

		// sort keys for consistent output
		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, fields[0][k]))
		}
	}

	sb.WriteString("Stack Trace:\n")
	sb.Write(stack)

	log.Print(sb.String())
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	// we find the index after the panic line
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// then remove everything before it
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		// remove the panic() call line & file reference line
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
