// Package command runs adapters as child processes, one process per job.
//
// Protocol: the request is written to stdin as one JSON document and the
// process answers with one JSON document on stdout. A non-zero exit is a
// failure; the tail of stderr becomes the error text. Cancelling the job
// context kills the process, so a hung automation driver dies with the job.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

const (
	stderrTail = 2048
	waitDelay  = 3 * time.Second
)

// Spec is one adapter executable.
type Spec struct {
	Command []string
	Env     map[string]string
	Dir     string
}

func (s Spec) Empty() bool { return len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" }

func (s Spec) String() string { return strings.Join(s.Command, " ") }

type tail struct {
	buf []byte
	max int
}

func (t *tail) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tail) String() string { return strings.TrimSpace(string(t.buf)) }

// call runs spec once with req on stdin and decodes stdout into resp.
func call(ctx context.Context, log logx.Logger, spec Spec, req, resp any) error {
	if spec.Empty() {
		return errors.New("adapter command not configured")
	}
	in, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode adapter request")
	}

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = environ(spec.Env)
	cmd.Stdin = bytes.NewReader(in)
	var stdout bytes.Buffer
	stderr := &tail{max: stderrTail}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err = cmd.Run()
	took := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "adapter %s", spec.Command[0])
		}
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		log.Debug("adapter.failed", logx.String("cmd", spec.String()), logx.Duration("took", took), logx.Err(err))
		return errors.WithDetail(errors.Newf("adapter %s: %s", spec.Command[0], msg), err.Error())
	}
	log.Trace("adapter.done", logx.String("cmd", spec.String()), logx.Duration("took", took))

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return errors.Newf("adapter %s: empty response", spec.Command[0])
	}
	if err := json.Unmarshal(out, resp); err != nil {
		return errors.Wrapf(err, "adapter %s: decode response", spec.Command[0])
	}
	return nil
}

func environ(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
