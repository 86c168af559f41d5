package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Resolver turns page URLs into direct media URLs by running an external
// helper as `<Command> -f <Format> -g <url>`. A zero Resolver passes URLs
// through unchanged.
type Resolver struct {
	Command string
	Format  string
}

// Resolve returns the first URL the helper prints.
func (r Resolver) Resolve(ctx context.Context, url string) (string, error) {
	command := strings.TrimSpace(r.Command)
	if command == "" {
		return url, nil
	}
	format := strings.TrimSpace(r.Format)
	if format == "" {
		format = "worst"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, "-f", format, "-g", url)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w: %s", url, err, strings.TrimSpace(stderr.String()))
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", errors.New("resolve " + url + ": helper printed no url")
}
