// SPDX-License-Identifier: MPL-2.0

//go:build !noeval

package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/workerhost/workerhost/internal/testutil"
)

func TestEval(t *testing.T) {
	t.Parallel()

	r := run(t, "eval", "x=6", "echo $((x * 7))")
	requireSuccess(t, r)
	if r.stdout != "42\n" {
		t.Errorf("stdout = %q, want %q", r.stdout, "42\n")
	}
}

func TestEval_StopsAtFirstError(t *testing.T) {
	t.Parallel()

	r := run(t, "eval", "echo before", "false", "echo never")
	requireExitCode(t, r, 1)
	if r.stdout != "before\n" {
		t.Errorf("stdout = %q, want %q", r.stdout, "before\n")
	}
	for _, want := range []string{"failed to evaluate code", "exit status 1"} {
		if !strings.Contains(r.stderr, want) {
			t.Errorf("stderr should contain %q:\n%s", want, r.stderr)
		}
	}
}

func TestEval_WithSource(t *testing.T) {
	t.Parallel()

	lib := filepath.Join(t.TempDir(), "lib.sh")
	testutil.MustWriteFile(t, lib, "double() { echo $(($1 * 2)); }\n")

	r := run(t, "eval", "--source", lib, "double 21")
	requireSuccess(t, r)
	if r.stdout != "42\n" {
		t.Errorf("stdout = %q, want %q", r.stdout, "42\n")
	}
}

func TestEval_InvalidLanguage(t *testing.T) {
	t.Parallel()

	r := run(t, "eval", "--lang", "lua", "print(1)")
	requireExitCode(t, r, 1)
	if !strings.Contains(r.stderr, "Use --lang sh or --lang cue") {
		t.Errorf("stderr should carry the language suggestion:\n%s", r.stderr)
	}
}

func TestRepl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		stdin      string
		wantStdout string
		wantStderr string
	}{
		{
			name:       "state survives errors",
			stdin:      "x=5\necho $x\n\nfalse\necho after $x\n.exit\necho unreachable\n",
			wantStdout: "5\nafter 5\n",
			wantStderr: "exit status 1",
		},
		{
			name:       "eof without trailing newline",
			stdin:      "echo hi",
			wantStdout: "hi\n",
		},
		{
			name:  "empty input",
			stdin: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := execute(t, staticProvider{cfg: testConfig()}, tt.stdin, "repl")
			requireSuccess(t, r)
			if r.stdout != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", r.stdout, tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(r.stderr, tt.wantStderr) {
				t.Errorf("stderr should contain %q:\n%s", tt.wantStderr, r.stderr)
			}
		})
	}
}

func TestRun_Inline(t *testing.T) {
	t.Parallel()

	r := run(t, "run", "-e", "postMessage hello world")
	requireSuccess(t, r)
	if r.stdout != "hello world\n" {
		t.Errorf("stdout = %q, want %q", r.stdout, "hello world\n")
	}
}

func TestRun_FileWithArgs(t *testing.T) {
	t.Parallel()

	job := filepath.Join(t.TempDir(), "job.sh")
	testutil.MustWriteFile(t, job, "postMessage \"got $# $1\"\n")

	r := run(t, "run", job, "first", "second")
	requireSuccess(t, r)
	if r.stdout != "got 2 first\n" {
		t.Errorf("stdout = %q, want %q", r.stdout, "got 2 first\n")
	}
}

func TestRun_WaitUntilClosed(t *testing.T) {
	t.Parallel()

	r := run(t, "run", "--wait", "-e", "postMessage bye; close")
	requireSuccess(t, r)
	if r.stdout != "bye\n" {
		t.Errorf("stdout = %q, want %q", r.stdout, "bye\n")
	}
}

func TestRun_UncaughtErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		wantStderr string
	}{
		{"failing source", []string{"run", "-e", "postMessage partial; false"}, "exit status 1"},
		{"missing file", []string{"run", filepath.Join(t.TempDir(), "missing.sh")}, "missing.sh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := run(t, tt.args...)
			requireExitCode(t, r, 1)
			for _, want := range []string{"Uncaught", tt.wantStderr} {
				if !strings.Contains(r.stderr, want) {
					t.Errorf("stderr should contain %q:\n%s", want, r.stderr)
				}
			}
		})
	}
}

func TestRun_Isolated(t *testing.T) {
	// Not parallel: the child process inherits the environment set here.
	t.Setenv(beCLIEnv, "1")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("WORKERHOST_LOG_LEVEL", "error")

	r := run(t, "run", "--isolate", "-e", "postMessage \"from child $1\"", "arg")
	requireSuccess(t, r)
	if r.stdout != "from child arg\n" {
		t.Errorf("stdout = %q, want %q (stderr: %s)", r.stdout, "from child arg\n", r.stderr)
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hello" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "hello from the server")
	}))
	t.Cleanup(srv.Close)

	t.Run("stdout", func(t *testing.T) {
		t.Parallel()

		r := run(t, "fetch", srv.URL+"/hello")
		requireSuccess(t, r)
		if r.stdout != "hello from the server" {
			t.Errorf("stdout = %q", r.stdout)
		}
	})

	t.Run("output file", func(t *testing.T) {
		t.Parallel()

		out := filepath.Join(t.TempDir(), "body.txt")
		r := run(t, "fetch", "-o", out, srv.URL+"/hello")
		requireSuccess(t, r)
		if r.stdout != "" {
			t.Errorf("stdout = %q, want empty", r.stdout)
		}
		got, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(got) != "hello from the server" {
			t.Errorf("file = %q", got)
		}
	})

	t.Run("data url", func(t *testing.T) {
		t.Parallel()

		r := run(t, "fetch", "data:text/plain;base64,aGVsbG8=")
		requireSuccess(t, r)
		if r.stdout != "hello" {
			t.Errorf("stdout = %q, want %q", r.stdout, "hello")
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		r := run(t, "fetch", srv.URL+"/missing")
		requireExitCode(t, r, 1)
		for _, want := range []string{"404", "Try the URL with 'workerhost fetch'"} {
			if !strings.Contains(r.stderr, want) {
				t.Errorf("stderr should contain %q:\n%s", want, r.stderr)
			}
		}
	})
}
