// Package script spawns whitelisted test-script interpreters. Each spawn is
// scoped to a flow and session: the subprocess receives a short-lived signed
// token via TREQ_TOKEN and the service URL via TREQ_URL, and its stdout lines
// are forwarded as scriptOutput events on the owning flow.
package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	"github.com/viant/gosh/runner/ssh"
	"github.com/viant/scy/cred/secret"
	cssh "golang.org/x/crypto/ssh"

	"github.com/viant/treq"
	"github.com/viant/treq/auth"
	"github.com/viant/treq/event"
)

// whitelist is the fixed set of spawnable interpreters; anything else is
// rejected before a process starts.
var whitelist = map[string]bool{
	"node":    true,
	"npx":     true,
	"python":  true,
	"python3": true,
	"bash":    true,
	"sh":      true,
	"deno":    true,
	"bun":     true,
}

// Whitelisted reports whether command may be spawned.
func Whitelisted(command string) bool {
	return whitelist[command]
}

// Spec describes a script spawn request.
type Spec struct {
	Command   string
	Args      []string
	Env       map[string]string
	Dir       string
	FlowID    string
	SessionID string
	// Host selects remote execution over SSH; empty runs locally.
	Host string
	// Secret resolves SSH credentials for Host.
	Secret secret.Resource
}

// Result captures a finished script run.
type Result struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
	JTI      string `json:"jti,omitempty"`
}

// execFunc runs a command with the given environment, streaming stdout to
// listener, and returns the collected output and exit code.
type execFunc func(ctx context.Context, spec *Spec, config *cssh.ClientConfig,
	command string, env map[string]string, listener runner.Listener) (string, int, error)

// Runner spawns scripts, wiring each one to a scoped token and the event bus.
type Runner struct {
	issuer  *auth.Issuer
	bus     *event.Bus
	baseURL string
	log     *logrus.Entry
	secrets *secret.Service
	exec    execFunc
}

// Option customizes a Runner.
type Option func(*Runner)

// WithExecFunc overrides process execution, used by tests.
func WithExecFunc(exec execFunc) Option {
	return func(r *Runner) { r.exec = exec }
}

// New creates a script Runner. issuer may be nil when the server runs
// without a token, in which case spawned scripts get no TREQ_TOKEN.
func New(issuer *auth.Issuer, bus *event.Bus, baseURL string, options ...Option) *Runner {
	ret := &Runner{
		issuer:  issuer,
		bus:     bus,
		baseURL: baseURL,
		log:     treq.Logger("script"),
		secrets: secret.New(),
		exec:    goshExec,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Run spawns spec.Command and blocks until it exits. A scoped script token is
// issued before the spawn and revoked after exit regardless of outcome.
func (r *Runner) Run(ctx context.Context, spec *Spec) (*Result, error) {
	if !Whitelisted(spec.Command) {
		return nil, treq.Errorf(treq.CodeValidationError,
			"command %q is not a permitted script runner", spec.Command)
	}
	env := map[string]string{}
	for key, value := range spec.Env {
		env[key] = value
	}
	var jti string
	if r.issuer != nil {
		token, payload, err := r.issuer.Issue(ctx, spec.FlowID, spec.SessionID)
		if err != nil {
			return nil, err
		}
		jti = payload.JTI
		env["TREQ_TOKEN"] = token
		defer func() {
			if err := r.issuer.Revoke(context.Background(), jti); err != nil {
				r.log.WithError(err).Warn("failed to revoke script token")
			}
		}()
	}
	if r.baseURL != "" {
		env["TREQ_URL"] = r.baseURL
	}

	sshConfig, err := r.sshConfig(ctx, spec)
	if err != nil {
		return nil, err
	}

	cmd := spec.Command
	if len(spec.Args) > 0 {
		cmd = fmt.Sprintf("%s %s", spec.Command, strings.Join(spec.Args, " "))
	}
	if spec.Dir != "" {
		cmd = fmt.Sprintf("cd %s && %s", spec.Dir, cmd)
	}
	r.log.WithFields(logrus.Fields{"command": spec.Command, "flowId": spec.FlowID}).Info("spawning script")

	runID := treq.NewRunID()
	output, code, err := r.exec(ctx, spec, sshConfig, cmd, env, r.outputListener(runID, spec))
	if err != nil {
		return nil, treq.Errorf(treq.CodeExecuteError, "script failed: %v", err)
	}
	return &Result{Output: output, ExitCode: code, JTI: jti}, nil
}

// outputListener splits the stdout stream into lines and forwards each as a
// scriptOutput event on the owning flow.
func (r *Runner) outputListener(runID string, spec *Spec) runner.Listener {
	var builder strings.Builder
	return func(stdout string, hasMore bool) {
		builder.WriteString(stdout)
		for {
			buffered := builder.String()
			index := strings.Index(buffered, "\n")
			if index == -1 {
				break
			}
			line := buffered[:index]
			builder.Reset()
			builder.WriteString(buffered[index+1:])
			if line == "" {
				continue
			}
			r.emitLine(runID, spec, line)
		}
		if !hasMore && builder.Len() > 0 {
			r.emitLine(runID, spec, builder.String())
			builder.Reset()
		}
	}
}

func (r *Runner) emitLine(runID string, spec *Spec, line string) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(spec.SessionID, runID, map[string]interface{}{
		"type":   treq.EventScriptOutput,
		"flowId": spec.FlowID,
		"line":   line,
	})
}

func (r *Runner) sshConfig(ctx context.Context, spec *Spec) (*cssh.ClientConfig, error) {
	if spec.Host == "" {
		return nil, nil
	}
	if spec.Secret == "" {
		return nil, treq.Errorf(treq.CodeValidationError,
			"ssh credentials required for remote host %q", spec.Host)
	}
	cred, err := r.secrets.GetCredentials(ctx, string(spec.Secret))
	if err != nil {
		return nil, err
	}
	return cred.SSH.Config(ctx)
}

func goshExec(ctx context.Context, spec *Spec, config *cssh.ClientConfig,
	command string, env map[string]string, listener runner.Listener) (string, int, error) {
	options := []runner.Option{runner.AsPipeline()}
	var client runner.Runner
	if config != nil {
		client = ssh.New(spec.Host, config, options...)
	} else {
		client = local.New(options...)
	}
	return client.Run(ctx, command, runner.WithEnvironment(env), runner.WithListener(listener))
}
