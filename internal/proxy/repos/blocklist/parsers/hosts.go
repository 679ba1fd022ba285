package parsers

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/common/utils"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// ParseHostsList parses hosts-file style blocklists ("0.0.0.0 ads.example.com")
// into BlockEntry values, so published sinkhole lists can be used unchanged.
//
// Rules:
//   - The first field must be an IP address and is otherwise ignored; lines
//     where it is not are skipped
//   - Every following field is a hostname; inline comments after '#' are dropped
//   - Single-label names (localhost, broadcasthost) and IP literals are skipped
//   - Wildcard tokens are skipped; hosts files have no wildcard syntax
//   - Names are canonicalized like request hosts and de-duplicated in order
func ParseHostsList(r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.BlockEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	seen := make(map[string]struct{})
	out := make([]domain.BlockEntry, 0, 256)
	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if net.ParseIP(fields[0]) == nil {
			logger.Debug(map[string]any{"line": lineNum, "raw": fields[0]}, "hosts_skip_no_address")
			continue
		}

		for _, raw := range fields[1:] {
			if strings.Contains(raw, "*") || strings.HasPrefix(raw, ".") {
				logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "hosts_skip_wildcard")
				continue
			}
			name := utils.CanonicalHost(raw)
			if !strings.Contains(name, ".") || net.ParseIP(name) != nil {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			entry, err := domain.NewBlockEntry(name, source, now)
			if err != nil {
				logger.Debug(map[string]any{"line": lineNum, "name": name, "error": err}, "hosts_skip_invalid_name")
				continue
			}
			seen[name] = struct{}{}
			out = append(out, entry)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "line": lineNum, "error": err}, "parse_hosts_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}
