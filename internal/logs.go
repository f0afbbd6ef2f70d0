package internal

import "fmt"

// MaxSizeIPListForLog returns the keys in a set of IPs as a slice of maximum
// length maxToDisplay, for logging something like an expired-ban sweep
// without dumping the whole blacklist (which can run into the hundreds of
// thousands of entries) into one log line.
func MaxSizeIPListForLog(ips map[string]struct{}, maxToDisplay int) []string {
	numberToDisplay := min(len(ips), maxToDisplay)
	display := make([]string, 0, numberToDisplay)
	for ip := range ips {
		display = append(display, ip)
		if len(display) >= numberToDisplay {
			break
		}
	}
	if len(ips) > maxToDisplay {
		display = append(display, fmt.Sprintf("(and %d more...)", len(ips)-maxToDisplay))
	}
	return display
}
