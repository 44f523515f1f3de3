//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package ourio

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// WriteFileIfDifferent writes data to filename unless the file already holds
// exactly data. The new contents are written to a temporary file next to it
// and renamed over it, so a reader never sees a partial file.
// Returns true if an existing file was updated.
func WriteFileIfDifferent(filename string, data []byte, perm os.FileMode) (bool, error) {
	exData, err := ioutil.ReadFile(filename)
	if err == nil && bytes.Equal(exData, data) {
		return false, nil
	}
	if err := WriteFileAtomic(filename, data, perm); err != nil {
		return false, errors.Trace(err)
	}
	return err == nil, nil
}

// WriteYAMLFileIfDifferent is WriteFileIfDifferent for the YAML encoding of s.
func WriteYAMLFileIfDifferent(filename string, s interface{}, perm os.FileMode) (bool, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return false, errors.Trace(err)
	}
	return WriteFileIfDifferent(filename, data, perm)
}

// WriteFileAtomic replaces filename with data via a temporary file in the
// same directory.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	f, err := ioutil.TempFile(filepath.Dir(filename), "."+filepath.Base(filename)+".")
	if err != nil {
		return errors.Trace(err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Annotatef(err, "%s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Trace(err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return errors.Trace(err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return errors.Trace(err)
	}
	return nil
}
