// Package gcode classifies printer terminal lines.
package gcode

import "strings"

// echoMarkers are prefixes printers and hosts prepend when echoing a command.
var echoMarkers = []string{"echo:", "Send:", ">"}

// SplitCommand splits a multi-line terminal payload into lines, dropping
// blank lines and carriage returns.
func SplitCommand(command string) []string {
	if command == "" {
		return nil
	}
	parts := strings.Split(command, "\n")
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimRight(part, "\r")
		if strings.TrimSpace(part) == "" {
			continue
		}
		lines = append(lines, part)
	}
	return lines
}

// TrimEcho removes leading whitespace and a single leading echo marker.
func TrimEcho(line string) string {
	line = strings.TrimLeft(line, " \t")
	for _, marker := range echoMarkers {
		if strings.HasPrefix(line, marker) {
			return strings.TrimLeft(line[len(marker):], " \t")
		}
	}
	return line
}

// Movement returns the instruction text and true when line is a movement
// instruction, i.e. its first character after TrimEcho is 'G'.
func Movement(line string) (string, bool) {
	trimmed := TrimEcho(line)
	if trimmed == "" || trimmed[0] != 'G' {
		return "", false
	}
	return strings.TrimRight(trimmed, " \t\r"), true
}
