package awg

import "strings"

// fakeRunner scripts command results for pipeline tests. Responses are
// matched by substring against the issued command; unmatched commands get an
// empty successful result. Every issued command is recorded for assertions.
type fakeRunner struct {
	responses []fakeResponse
	issued    []string
	oneShots  []string
}

type fakeResponse struct {
	match  string
	result Result
	err    error
}

func (f *fakeRunner) respond(match string, result Result) {
	f.responses = append(f.responses, fakeResponse{match: match, result: result})
}

func (f *fakeRunner) fail(match string, err error) {
	f.responses = append(f.responses, fakeResponse{match: match, err: err})
}

func (f *fakeRunner) lookup(cmd string) (Result, error) {
	for _, r := range f.responses {
		if strings.Contains(cmd, r.match) {
			if r.err != nil {
				return Result{}, r.err
			}
			res := r.result
			res.Cmd = cmd
			return res, nil
		}
	}
	return Result{Cmd: cmd}, nil
}

func (f *fakeRunner) WriteSingleCmd(cmd string) (Result, error) {
	f.issued = append(f.issued, cmd)
	return f.lookup(cmd)
}

func (f *fakeRunner) RunCommands(cmds []string, yield func(Result) bool) error {
	for _, cmd := range cmds {
		res, err := f.WriteSingleCmd(cmd)
		if err != nil {
			return err
		}
		if !yield(res) {
			return nil
		}
	}
	return nil
}

func (f *fakeRunner) OneShotInContainer(script string) (Result, error) {
	f.oneShots = append(f.oneShots, script)
	return f.lookup(script)
}

// countIssued reports how many issued commands contain match.
func (f *fakeRunner) countIssued(match string) int {
	n := 0
	for _, cmd := range f.issued {
		if strings.Contains(cmd, match) {
			n++
		}
	}
	return n
}
