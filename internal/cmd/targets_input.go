package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/namelens/pacer/internal/source"
)

// resolveTargets builds targets from positional args or a list file. Each
// entry is a URL, or a domain when kind is source.KindRDAP.
func resolveTargets(positional []string, listFile, kind string) ([]source.Target, error) {
	trimmed := strings.TrimSpace(listFile)
	if trimmed != "" {
		if len(positional) > 0 {
			return nil, fmt.Errorf("cannot combine positional targets with a list file")
		}
		return readTargetsFile(trimmed, kind)
	}

	targets := make([]source.Target, 0, len(positional))
	for _, raw := range positional {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		target := newTarget(value, kind)
		if err := target.Validate(); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}
	return targets, nil
}

func readTargetsFile(path, kind string) ([]source.Target, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close() // nolint:errcheck
		reader = file
	}

	targets := make([]source.Target, 0)
	scanner := bufio.NewScanner(reader)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		target := newTarget(raw, kind)
		if err := target.Validate(); err != nil {
			return nil, fmt.Errorf("invalid target on line %d: %w", line, err)
		}
		targets = append(targets, target)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets found")
	}
	return targets, nil
}

func newTarget(value, kind string) source.Target {
	if kind == source.KindRDAP {
		return source.Target{Domain: strings.ToLower(value)}
	}
	return source.Target{URL: value}
}
