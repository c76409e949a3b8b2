package util

import (
	"strconv"
	"strings"
)

// ParseIntDefault returns def when s is empty or not a base-10 integer.
func ParseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

// SplitList splits a comma separated value such as "k1:9092, k2:9092",
// dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SplitHostPort splits "host:port". A missing or invalid port yields
// defPort.
func SplitHostPort(addr string, defPort int) (string, int) {
	host, port, ok := strings.Cut(strings.TrimSpace(addr), ":")
	if !ok {
		return host, defPort
	}
	return host, ParseIntDefault(port, defPort)
}
