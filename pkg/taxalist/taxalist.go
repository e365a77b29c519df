// Package taxalist reads the input list of taxonomic names.
package taxalist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Load reads a text file with one taxon name per line and returns the
// names in file order. Blank lines are skipped and surrounding
// whitespace is trimmed. Lines starting with '#' are treated as comments.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxa list: %w", err)
	}
	defer f.Close()

	var taxa []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		taxa = append(taxa, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read taxa list: %w", err)
	}

	return taxa, nil
}
