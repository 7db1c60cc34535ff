package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits a raw option string into arguments. No shell is
// involved, which prevents shell injection.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ParseParameters folds a flat argument list into typed Parameters.
// A -name token followed by a token not starting with '-' becomes a
// key/value option; otherwise it becomes a flag.
func ParseParameters(args []string) ([]Parameter, error) {
	var params []Parameter
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("argument %q is not an option", arg)
		}
		name := strings.TrimPrefix(arg, "-")
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			params = append(params, KV(name, args[i+1]))
			i++
			continue
		}
		params = append(params, Flag(name))
	}
	return params, nil
}

// ValidateArgs checks arguments for shell metacharacters. The renderer
// itself passes arbitrary strings through verbatim; call this when the
// arguments come from untrusted clients.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
