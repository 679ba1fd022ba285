package parsers

import (
	"bufio"
	"io"
	"strings"
	"time"

	logpkg "github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/common/utils"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// maxLineBytes bounds a single list line; longer lines fail the parse.
const maxLineBytes = 1 << 20

// ParsePlainList parses a newline-delimited list of domain patterns into BlockEntry values.
//
// Behavior:
// - Each line is trimmed of surrounding whitespace (a leading UTF-8 BOM is dropped)
// - Empty lines and lines whose trimmed text starts with '#' are skipped
// - A leading "*." or "." is accepted and removed; every pattern already covers its subdomains
// - Patterns are lowercased, lose trailing dots and are converted to punycode
// - Tokens that cannot be a domain (inner whitespace, empty labels) are skipped
// - Duplicates collapse, preserving first-seen order
// - Each entry is attributed to source and timestamped with now
func ParsePlainList(r io.Reader, source string, logger logpkg.Logger, now time.Time) ([]domain.BlockEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	seen := make(map[string]struct{})
	out := make([]domain.BlockEntry, 0, 256)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		pattern := normalizePattern(trimmed)
		entry, err := domain.NewBlockEntry(pattern, source, now)
		if err != nil {
			logger.Debug(map[string]any{"line": lineNum, "raw": trimmed, "error": err}, "skip_invalid_pattern")
			continue
		}
		if _, ok := seen[entry.Pattern]; ok {
			continue
		}
		seen[entry.Pattern] = struct{}{}
		out = append(out, entry)
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "line": lineNum, "error": err}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}

// normalizePattern removes an optional wildcard marker and applies the same
// canonicalization used for request hosts, so both sides compare byte for byte.
func normalizePattern(s string) string {
	switch {
	case strings.HasPrefix(s, "*."):
		s = s[2:]
	case strings.HasPrefix(s, "."):
		s = s[1:]
	}
	if strings.ContainsAny(s, " \t") {
		// keep inner whitespace so validation rejects the token
		return strings.ToLower(s)
	}
	return utils.CanonicalHost(s)
}
