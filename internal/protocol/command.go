package protocol

import (
	"strings"
)

// Command is a parsed operator command.
type Command struct {
	Kind Kind
	Args []string
}

// commandArity lists the commands accepted as text and their argument count.
var commandArity = map[Kind]int{
	KindSchedule:       1,
	KindCancelSchedule: 0,
	KindClaim:          0,
	KindPrepare:        0,
	KindResume:         0,
	KindSuspend:        0,
	KindRelease:        0,
}

// ParseCommand parses text of the form "COMMAND arg1,arg2".
//
// Command names are matched case-insensitively. Arguments are separated by
// commas and trimmed; an empty argument list is valid for zero-arity
// commands.
//
// Returns:
//   - Command: The parsed command (zero value on failure)
//   - Result: NoError, UnknownCommand or IncorrectParameterCount
func ParseCommand(text string) (Command, Result) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{}, UnknownCommand
	}

	name, rest, _ := strings.Cut(text, " ")
	kind, err := ParseKind(strings.ToUpper(name))
	if err != nil {
		return Command{}, UnknownCommand
	}
	arity, ok := commandArity[kind]
	if !ok {
		return Command{}, UnknownCommand
	}

	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, a := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	if len(args) != arity {
		return Command{}, IncorrectParameterCount
	}
	for _, a := range args {
		if a == "" {
			return Command{}, IncorrectParameterCount
		}
	}

	return Command{Kind: kind, Args: args}, NoError
}

// String renders the command back into its text form.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Kind.String()
	}
	return c.Kind.String() + " " + strings.Join(c.Args, ",")
}

// Event converts the command into the equivalent peer request.
func (c Command) Event() Event {
	if c.Kind == KindSchedule && len(c.Args) == 1 {
		return Schedule(c.Args[0])
	}
	return NewEvent(c.Kind)
}
