package ml

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/signscan/signscan/utils"
)

// ReadLabels reads a model's label list. A .json file holds an array of strings; any other file
// holds one label per line with blank lines skipped.
func ReadLabels(path string) (labels []string, err error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "cannot open label file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	if utils.MimeTypeFromPath(path) == utils.MimeTypeJSON {
		if err := json.NewDecoder(f).Decode(&labels); err != nil {
			return nil, errors.Wrapf(err, "cannot decode labels from %s", filepath.Base(path))
		}
	} else {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				labels = append(labels, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("no labels found in %s", filepath.Base(path))
	}
	return labels, nil
}
