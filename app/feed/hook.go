package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"
)

const hookTimeout = 2 * time.Minute

// Hook is a command executed after an episode download. In YAML it is either
// a plain string (run through the shell) or an argument list.
type Hook struct {
	Command []string `json:"command"`
}

func (h *Hook) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		h.Command = []string{"/bin/sh", "-c", single}
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return fmt.Errorf("hook must be a string or a list of arguments: %w", err)
	}
	h.Command = list
	return nil
}

func (h *Hook) MarshalYAML() (interface{}, error) {
	if len(h.Command) == 3 && h.Command[0] == "/bin/sh" && h.Command[1] == "-c" {
		return h.Command[2], nil
	}
	return h.Command, nil
}

// Invoke runs the hook with the given extra environment variables appended to
// the current process environment. A non-zero exit is returned as an error
// with the combined output attached.
func (h *Hook) Invoke(env []string) error {
	if len(h.Command) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.Command[0], h.Command[1:]...)
	cmd.Env = append(os.Environ(), env...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hook %q failed: %w: %s", h.Command[0], err, output)
	}

	slog.Debug("Hook executed", "command", h.Command[0], "output", string(output))
	return nil
}
