package ytdlp

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Process is a running download whose stdout and stderr are split into lines
// and delivered, one at a time, to the callback given to Start.
type Process struct {
	cmd     *exec.Cmd
	readers sync.WaitGroup
}

// Exit describes how a Process ended.
type Exit struct {
	Code     int
	Signaled bool
	Err      error
}

// Start spawns bin in dir. onLine is never called concurrently with itself.
func Start(bin string, args []string, dir string, onLine func(stream OutputStream, line string)) (*Process, error) {
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	configureProcAttr(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartErr(bin, err)
	}

	p := &Process{cmd: cmd}
	var mu sync.Mutex
	read := func(stream OutputStream, r io.Reader) {
		defer p.readers.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			onLine(stream, line)
			mu.Unlock()
		}
		// Drain whatever the scanner refused (over-long line) so the child never blocks.
		_, _ = io.Copy(io.Discard, r)
	}

	p.readers.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	return p, nil
}

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate asks the process group to exit.
func (p *Process) Terminate() error {
	return terminateProcess(p.cmd)
}

// Kill forcibly ends the process group.
func (p *Process) Kill() error {
	return killProcess(p.cmd)
}

// Wait blocks until both output streams hit EOF and the process is reaped.
func (p *Process) Wait() Exit {
	p.readers.Wait()
	err := p.cmd.Wait()
	state := p.cmd.ProcessState
	if state == nil {
		return Exit{Code: 1, Err: err}
	}
	code := state.ExitCode()
	if code == -1 {
		return Exit{Code: 1, Signaled: true}
	}
	return Exit{Code: code}
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
