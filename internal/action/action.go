package action

import (
	"context"
	"os/exec"

	"github.com/doridoridoriand/tunnelwatch/internal/state"
)

// Action is one lifecycle operation, bringing the tunnel to a single state.
type Action interface {
	State() state.DesiredState
	Name() string
	Command(ctx context.Context) *exec.Cmd
}

// ScriptAction runs an external program, typically `bash scripts/<name>.sh`.
type ScriptAction struct {
	state state.DesiredState
	name  string
	argv  []string
	dir   string
}

// NewScriptAction builds an action from an argv; argv[0] is resolved via PATH.
func NewScriptAction(desired state.DesiredState, name string, argv []string) *ScriptAction {
	return &ScriptAction{state: desired, name: name, argv: append([]string(nil), argv...)}
}

// Startup is the UP action.
func Startup(argv []string) *ScriptAction {
	return NewScriptAction(state.StateUp, "startup-tunnel", argv)
}

// Shutdown is the DOWN action.
func Shutdown(argv []string) *ScriptAction {
	return NewScriptAction(state.StateDown, "shutdown-tunnel", argv)
}

// InDir sets the working directory for the command.
func (a *ScriptAction) InDir(dir string) *ScriptAction {
	a.dir = dir
	return a
}

func (a *ScriptAction) State() state.DesiredState { return a.state }

func (a *ScriptAction) Name() string { return a.name }

// Argv returns a copy of the command line.
func (a *ScriptAction) Argv() []string { return append([]string(nil), a.argv...) }

func (a *ScriptAction) Command(ctx context.Context) *exec.Cmd {
	if len(a.argv) == 0 {
		return exec.CommandContext(ctx, "")
	}
	cmd := exec.CommandContext(ctx, a.argv[0], a.argv[1:]...)
	cmd.Dir = a.dir
	return cmd
}
