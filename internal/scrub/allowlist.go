package scrub

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist errors.
var (
	ErrInvalidTOML  = errors.New("invalid allowlist TOML")
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Allowlist holds content patterns the scrubber must leave intact:
// documentation placeholders, fixture credentials, canary tokens.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads and validates a TOML allowlist file. A missing file is
// not an error; it yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("stat allowlist %s: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, p := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}

	return &Allowlist{
		Regexes:   config.Allowlist.Regexes,
		StopWords: config.Allowlist.StopWords,
	}, nil
}
