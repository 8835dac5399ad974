// Package classifier holds helpers shared by classifier backends.
package classifier

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tphakala/clipscan/internal/errors"
	"github.com/tphakala/clipscan/internal/logger"
)

// LoadLabels reads one class label per line. Surrounding whitespace is
// trimmed; blank lines and lines starting with '#' are skipped. Duplicate
// labels are rejected since scores are matched to classes by position.
func LoadLabels(r io.Reader) ([]string, error) {
	var labels []string
	seen := make(map[string]int)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		label := strings.TrimSpace(scanner.Text())
		if label == "" || strings.HasPrefix(label, "#") {
			continue
		}
		if first, dup := seen[label]; dup {
			return nil, fmt.Errorf("label %q on line %d duplicates line %d", label, line, first)
		}
		seen[label] = line
		labels = append(labels, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels found")
	}
	return labels, nil
}

// LoadLabelFile reads labels from path.
func LoadLabelFile(path string) ([]string, error) {
	start := time.Now()

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryFileIO).
			Context("label_path", path).
			Context("operation", "open").
			Build()
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("Failed to close label file", logger.Error(err), logger.String("path", path))
		}
	}()

	labels, err := LoadLabels(file)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryLabelLoad).
			Context("label_path", path).
			Context("operation", "parse").
			Timing("label-file-load", time.Since(start)).
			Build()
	}
	return labels, nil
}

// SplitLabel splits a "Scientific name_Common name" label. A label without an
// underscore that contains a space is treated as a common name; anything else
// is returned as the scientific name.
func SplitLabel(label string) (scientific, common string) {
	if label == "" {
		return "", ""
	}
	parts := strings.Split(label, "_")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}
	if strings.Contains(label, " ") {
		return "", label
	}
	return label, ""
}
