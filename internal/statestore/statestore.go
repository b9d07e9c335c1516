// Package statestore implements atomic JSON persistence for the small
// state blobs the core manages (settings, install state, controller
// state), with corrupt-file quarantine so the application never refuses to
// boot because of user-data corruption. Grounded on the write-tmp/rename
// idiom used by the teacher's reconciler state file.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/petitechose-midi-studio/ms-manager/internal/apierr"
)

// WriteJSONAtomic serializes value as pretty-printed JSON and atomically
// replaces path: ensure parent dir exists, write to path+".tmp", remove any
// existing path, then rename tmp -> path.
func WriteJSONAtomic(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.Wrap(apierr.CodeIOMkdir, "", err)
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.CodeIOWrite, "failed to marshal state", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierr.Wrap(apierr.CodeIOWrite, "", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return apierr.Wrap(apierr.CodeIORemove, "", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return apierr.Wrap(apierr.CodeIOPathFailed, "", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apierr.Wrap(apierr.CodeIORename, "", err)
	}
	return nil
}

// ReadJSONOptional reads and unmarshals path into dst. An absent file
// returns (false, nil). Malformed JSON returns an apierr with code
// json_parse_failed — callers are expected to quarantine via Quarantine
// and proceed with defaults.
func ReadJSONOptional(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, apierr.Wrap(apierr.CodeIORead, "", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, apierr.Wrap(apierr.CodeJSONParseFailed, "", err)
	}
	return true, nil
}

// Quarantine renames a corrupt state file aside as "<path>.corrupt.json"
// (disambiguated with a timestamp if that name is already taken), so the
// application can proceed with defaults instead of refusing to boot.
func Quarantine(path string) error {
	dest := path + ".corrupt.json"
	if _, err := os.Stat(dest); err == nil {
		dest = fmt.Sprintf("%s.corrupt.%d.json", path, time.Now().UnixNano())
	}
	if err := os.Rename(path, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return apierr.Wrap(apierr.CodeIORename, "failed to quarantine corrupt state file", err)
	}
	return nil
}

// LoadWithDefaults reads path into dst via ReadJSONOptional. On a
// json_parse_failed it quarantines the corrupt file, resets dst to its
// zero value, and returns successfully — the caller proceeds with
// defaults. Any other error (I/O failure unrelated to parsing) propagates.
func LoadWithDefaults(path string, dst any) error {
	_, err := ReadJSONOptional(path, dst)
	if err == nil {
		return nil
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Code == apierr.CodeJSONParseFailed {
		if qerr := Quarantine(path); qerr != nil {
			return qerr
		}
		resetToZero(dst)
		return nil
	}
	return err
}

func resetToZero(dst any) {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	elem := v.Elem()
	elem.Set(reflect.Zero(elem.Type()))
}
