package validation

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// defaultMaliciousPatterns describe content that should never appear in a
// tool argument: script injection, path traversal, template expansion,
// SQL, and shell-chaining attempts.
var defaultMaliciousPatterns = []string{
	`(?i)<script[\s>]`,
	`(?i)javascript:`,
	`(?i)\.\./`,
	`(?i)\$\{.*\}`,
	`(?i)\bunion\s+select\b`,
	`(?i)\bdrop\s+table\b`,
	`;\s*rm\s+-rf`,
}

// Sanitizer trims/normalizes strings, enforces size limits, and flags
// content matching the malicious-pattern set. The pattern set can be
// hot-reloaded from a config file via Watch, so operators can react to a
// new injection shape without restarting the server.
type Sanitizer struct {
	cfg models.ValidationConfig
	log zerolog.Logger

	mu       sync.RWMutex
	patterns []*regexp.Regexp

	watcher *fsnotify.Watcher
}

func NewSanitizer(cfg models.ValidationConfig) *Sanitizer {
	s := &Sanitizer{cfg: cfg, log: logging.Component("sanitizer")}
	s.setPatterns(defaultMaliciousPatterns)
	return s
}

func (s *Sanitizer) setPatterns(patterns []string) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			s.log.Warn().Err(err).Str("pattern", p).Msg("skipping invalid sanitizer pattern")
			continue
		}
		compiled = append(compiled, re)
	}
	s.mu.Lock()
	s.patterns = compiled
	s.mu.Unlock()
}

// Watch hot-reloads the pattern set whenever path changes, one pattern per
// line. Callers stop the watcher via Close.
func (s *Sanitizer) Watch(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create pattern watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch pattern file %s: %w", path, err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.reloadFrom(path); err != nil {
						s.log.Warn().Err(err).Msg("pattern reload failed")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("pattern watcher error")
			}
		}
	}()
	return nil
}

func (s *Sanitizer) reloadFrom(path string) error {
	data, err := readPatternFile(path)
	if err != nil {
		return err
	}
	s.setPatterns(data)
	s.log.Info().Int("patterns", len(data)).Msg("sanitizer patterns hot-reloaded")
	return nil
}

// Close stops the watcher, if one was started.
func (s *Sanitizer) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Sanitizer) Name() string { return "sanitizer" }

// Validate sanitizes every string-valued argument and flags content
// matching a malicious pattern as MaliciousContent; matching content is
// not rewritten. Sanitization is idempotent:
// sanitize(sanitize(x)) == sanitize(x), since trimming, whitespace
// collapse, and truncation (re-trimmed) are fixed points.
func (s *Sanitizer) Validate(ctx *models.ValidationContext, method string, args map[string]interface{}) Result {
	result := Result{IsValid: true, Sanitized: make(map[string]interface{}, len(args))}

	s.mu.RLock()
	patterns := s.patterns
	s.mu.RUnlock()

	for key, value := range args {
		str, ok := value.(string)
		if !ok {
			result.Sanitized[key] = value
			continue
		}

		clean := collapseWhitespace(strings.TrimSpace(str))

		if len(clean) > s.cfg.MaxStringLength {
			result.Errors = append(result.Errors, Error{
				Field: key, Code: TooLong,
				Expected: fmt.Sprintf("<= %d chars", s.cfg.MaxStringLength),
				Actual:   fmt.Sprintf("%d chars", len(clean)),
			})
			clean = strings.TrimSpace(clean[:s.cfg.MaxStringLength])
		}

		for _, re := range patterns {
			if re.MatchString(clean) {
				result.Errors = append(result.Errors, Error{
					Field: key, Code: MaliciousContent,
					Expected: "content free of known malicious patterns",
					Actual:   re.String(),
				})
				break
			}
		}

		result.Sanitized[key] = clean
	}

	if arr, ok := firstArray(args); ok && len(arr) > s.cfg.MaxArraySize {
		result.Warnings = append(result.Warnings, Warning{
			Code: PerformanceImpact, Message: "argument array exceeds recommended size",
		})
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func firstArray(args map[string]interface{}) ([]interface{}, bool) {
	for _, v := range args {
		if arr, ok := v.([]interface{}); ok {
			return arr, true
		}
	}
	return nil, false
}

func readPatternFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
