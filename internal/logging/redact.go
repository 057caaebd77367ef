package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RedactedString builds a field that records only the value's length.
// For values known to be sensitive at the call site.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactCore rewrites sensitive fields before they reach the wrapped core.
// Field names match case-insensitively; patterns run against string values.
type redactCore struct {
	zapcore.Core
	names    map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactCore(core zapcore.Core, cfg RedactionConfig) (zapcore.Core, error) {
	names := make(map[string]struct{}, len(cfg.Fields))
	for _, f := range cfg.Fields {
		names[strings.ToLower(f)] = struct{}{}
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if len(p) > maxRedactPattern {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxRedactPattern, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &redactCore{Core: core, names: names, patterns: patterns}, nil
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{
		Core:     c.Core.With(c.redact(fields)),
		names:    c.names,
		patterns: c.patterns,
	}
}

func (c *redactCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return ce.AddCore(e, c)
}

func (c *redactCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(e, c.redact(fields))
}

func (c *redactCore) redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if _, ok := c.names[strings.ToLower(f.Key)]; ok {
			out[i] = zap.String(f.Key, "[REDACTED]")
			continue
		}
		if f.Type == zapcore.StringType {
			for _, re := range c.patterns {
				if re.MatchString(f.String) {
					f = zap.String(f.Key, "[REDACTED:pattern]")
					break
				}
			}
		}
		out[i] = f
	}
	return out
}
