package main

import "os"

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

func exitOnError(err error) {
	os.Stderr.WriteString("Error: " + err.Error() + "\n")
	os.Exit(1)
}
