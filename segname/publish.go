package segname

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const tmpPrefixLen = 10

// Prefix joins name under the prefix directory. An empty prefix leaves name
// as it is.
func Prefix(name, prefix string) string {
	if prefix == "" {
		return name
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + name
	}
	return prefix + "/" + name
}

// TempName returns a scratch name in the directory of final, so that it can
// be renamed onto final without crossing filesystems.
func TempName(final string) string {
	dir, base := filepath.Split(final)
	rnd := strings.ReplaceAll(uuid.New().String(), "-", "")[:tmpPrefixLen]
	return dir + rnd + "." + base
}

// MkFilePath creates the parent directories of path.
func MkFilePath(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "can't create %s", dir)
	}
	return nil
}

// Publish moves the finished file tmp onto final.
func Publish(tmp, final string) error {
	if err := MkFilePath(final); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrapf(err, "can't rename %s to %s", tmp, final)
	}
	return nil
}

// WriteFile writes data to a temporary name and publishes it as final.
func WriteFile(final string, data []byte) error {
	if err := MkFilePath(final); err != nil {
		return err
	}
	tmp := TempName(final)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "can't write %s", tmp)
	}
	if err := Publish(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
