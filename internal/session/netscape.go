package session

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadNetscapeCookies reads a flat cookie export in the classic Netscape
// cookie-file format: seven whitespace-separated columns
// (domain, include-subdomains flag, path, secure, expiry, name, value),
// `#`-prefixed lines ignored.
func LoadNetscapeCookies(path string) ([]Cookie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cookies []Cookie
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 7 {
			continue
		}

		ts := time.Now()
		if expiry, err := strconv.ParseInt(fields[4], 10, 64); err == nil && expiry > 0 {
			ts = time.Unix(expiry, 0)
		}

		cookies = append(cookies, Cookie{
			Domain:    fields[0],
			Path:      fields[2],
			Name:      fields[5],
			Value:     fields[6],
			Timestamp: ts,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cookies, nil
}
