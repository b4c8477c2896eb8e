// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
	DefaultExecPerm = 0755
)

// RunCmd runs "bin args..." in dir with timeout and returns its output.
func RunCmd(timeout time.Duration, dir, bin string, args ...string) ([]byte, error) {
	cmd := Command(bin, args...)
	cmd.Dir = dir
	return Run(timeout, cmd)
}

// Run runs cmd with the specified timeout.
// Returns combined output. If the command fails, err includes output.
func Run(timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
	return RunContext(context.Background(), timeout, cmd)
}

// RunContext is Run that also kills the command when ctx is done.
func RunContext(ctx context.Context, timeout time.Duration, cmd *exec.Cmd) ([]byte, error) {
	output := new(bytes.Buffer)
	if cmd.Stdout == nil {
		cmd.Stdout = output
	}
	if cmd.Stderr == nil {
		cmd.Stderr = output
	}
	setPdeathsig(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %v %+v: %w", cmd.Path, cmd.Args, err)
	}
	done := make(chan bool)
	killed := make(chan string, 1)
	timer := time.NewTimer(timeout)
	go func() {
		reason := ""
		select {
		case <-timer.C:
			reason = "timedout"
		case <-ctx.Done():
			reason = "canceled"
			timer.Stop()
		case <-done:
			timer.Stop()
		}
		if reason != "" {
			killPgroup(cmd)
			cmd.Process.Kill()
		}
		killed <- reason
	}()
	err := cmd.Wait()
	close(done)
	reason := <-killed
	if err != nil {
		text := fmt.Sprintf("failed to run %q: %v", cmd.Args, err)
		if reason != "" {
			text = fmt.Sprintf("%v %q", reason, cmd.Args)
		}
		exitCode := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return output.Bytes(), &VerboseError{
			Title:    text,
			Output:   output.Bytes(),
			ExitCode: exitCode,
		}
	}
	return output.Bytes(), nil
}

// Command is similar to os/exec.Command, but also sets PDEATHSIG on linux.
func Command(bin string, args ...string) *exec.Cmd {
	cmd := exec.Command(bin, args...)
	setPdeathsig(cmd)
	return cmd
}

type VerboseError struct {
	Title    string
	Output   []byte
	ExitCode int
}

func (err *VerboseError) Error() string {
	if len(err.Output) == 0 {
		return err.Title
	}
	return fmt.Sprintf("%v\n%s", err.Title, err.Output)
}

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// CopyFile copies oldFile to newFile preserving the permission bits of oldFile.
func CopyFile(oldFile, newFile string) error {
	oldf, err := os.Open(oldFile)
	if err != nil {
		return err
	}
	defer oldf.Close()
	stat, err := oldf.Stat()
	if err != nil {
		return err
	}
	os.Remove(newFile)
	newf, err := os.OpenFile(newFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stat.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(newf, oldf); err != nil {
		newf.Close()
		return err
	}
	return newf.Close()
}

// TempName returns a name for a file next to filename that no other writer will pick.
func TempName(filename string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%v.%v.%v.tmp", filename, os.Getpid(), time.Now().UnixNano())
	}
	return fmt.Sprintf("%v.%v.tmp", filename, id)
}

// WriteFileAtomic writes data into a uniquely named temp file in the directory
// of filename and renames it over filename. Readers observe either the old or
// the new contents, never a partial write.
func WriteFileAtomic(filename string, data []byte) error {
	tmp := TempName(filename)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, DefaultFilePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ListDir returns all files in a directory.
func ListDir(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
