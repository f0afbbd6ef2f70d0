package config

import "os"

// statReadable checks only for existence, per §4.A: "pure, no I/O beyond
// reading TLS material presence (existence only)".
func statReadable(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
