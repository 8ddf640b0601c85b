package main

import (
	"os"
	"strings"

	"github.com/martinhoefling/goxkcdpwgen/xkcdpwgen"
)

func generateRigIDXKCD() string {
	g := xkcdpwgen.NewGenerator()
	g.SetNumWords(2)
	g.SetCapitalize(false)
	g.SetDelimiter("-")
	return strings.TrimSpace(g.GeneratePasswordString())
}

var rigIDGenerator = generateRigIDXKCD

// newRigID names this rig for the pool when neither the config nor any
// miner supplied a pass: the short hostname, else a random word pair.
func newRigID() string {
	if host, err := os.Hostname(); err == nil {
		host = strings.TrimSpace(strings.Split(host, ".")[0])
		if host != "" && host != "localhost" {
			return host
		}
	}
	return rigIDGenerator()
}
