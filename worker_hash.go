package main

import (
	"encoding/hex"
	"strings"
)

const commandIDLen = 12

// commandID is a short stable fingerprint of a worker command line. It keeps
// log lines and journal rows readable when commands carry long argument lists.
func commandID(command string) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return ""
	}
	sum := sha256Sum([]byte(command))
	return hex.EncodeToString(sum[:])[:commandIDLen]
}
