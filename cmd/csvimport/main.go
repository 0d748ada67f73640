// Command csvimport stages CSV files into the database and archives them.
//
// Usage:
//
//	csvimport serve                 HTTP API plus the incoming directory scanner
//	csvimport run <import> [file]   import pending files (or one file) now
//	csvimport count <file>          print the line count and source id
//	csvimport migrate               apply database migrations
//
// Settings come from the environment (optionally a .env file); import
// definitions come from the YAML jobs file.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
