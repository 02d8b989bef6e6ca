package duckdb

import (
	"fmt"
	"io"
	"os"
)

// writeFile copies reader to path and reports the close error, which is where
// a short write on some filesystems first shows up.
func writeFile(path string, reader io.Reader) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %q: %w", path, closeErr)
		}
	}()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}
