// Copyright 2022 Intel Corporation. All Rights Reserved.
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

// Package pidfile implements a daemon PID file, used to keep a single
// scheduler instance per host.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

var (
	path = defaultPath()
	file *os.File
)

// GetPath returns the current PID file path.
func GetPath() string {
	return path
}

// SetPath sets the PID file path.
func SetPath(p string) {
	drop()
	path = p
}

// Write creates the PID file with the PID of this process, failing if
// the file already exists. The file is kept open until Remove.
func Write() error {
	if file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create PID file directory for %s", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create PID file %s", path)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)
		return errors.Wrapf(err, "failed to write PID file %s", path)
	}
	file = f

	return nil
}

// Remove removes the PID file, whether or not this process created it.
func Remove() error {
	drop()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove PID file %s", path)
	}
	return nil
}

// OwnerPid returns the PID of the live process owning the PID file, or
// 0 if no such process exists.
func OwnerPid() (int, error) {
	pid, err := read()
	if err != nil || pid == 0 {
		return pid, err
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return 0, nil
	}
	err = p.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return pid, nil
	case err == os.ErrProcessDone:
		return 0, nil
	default:
		return -1, errors.Wrapf(err, "failed to check process %d", pid)
	}
}

// read parses the PID recorded in the PID file, 0 if there is none.
func read() (int, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrapf(err, "failed to read PID file %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf)))
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID (%q) in PID file %s", string(buf), path)
	}
	return pid, nil
}

func drop() {
	if file != nil {
		file.Close()
		file = nil
	}
}

func defaultPath() string {
	if len(os.Args) == 0 {
		return ""
	}
	name := filepath.Base(os.Args[0])
	if os.Geteuid() > 0 {
		return filepath.Join("/tmp", name+".pid")
	}
	return filepath.Join("/var/run", name+".pid")
}
