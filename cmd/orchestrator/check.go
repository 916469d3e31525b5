package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/policy"
	"github.com/nerrad567/gray-logic-orchestrator/internal/provision"
	"github.com/nerrad567/gray-logic-orchestrator/internal/registry"
	"github.com/nerrad567/gray-logic-orchestrator/internal/schedule"
)

// errInvalidBlob is returned when any checked blob has problems.
var errInvalidBlob = errors.New("invalid configuration")

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <blob.yaml>...",
		Short: "Validate device configuration blobs",
		Long: `Validate device configuration blobs without starting anything.

Each blob is parsed, its schedule and policy are checked, and every declared
child's derived schedule is checked as well. Problems are listed per file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			bad := 0
			for _, path := range args {
				set, err := paramset.Load(path)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", path, err)
					bad++
					continue
				}
				problems := checkBlob(set)
				if len(problems) == 0 {
					describeBlob(out, path, set)
					continue
				}
				bad++
				for _, p := range problems {
					fmt.Fprintf(out, "%s: %s\n", path, p)
				}
			}
			if bad > 0 {
				return fmt.Errorf("%w: %d of %d files", errInvalidBlob, bad, len(args))
			}
			return nil
		},
	}
}

// checkBlob lists everything a device would reject in set.
func checkBlob(set paramset.Set) []string {
	var problems []string

	if _, err := schedule.Parse(set); err != nil {
		problems = append(problems, fmt.Sprintf("schedule: %v", err))
	}
	if _, err := policy.ByName(set.String(registry.KeyPolicy, "")); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := set.Duration(lifecycle.KeyTimeout, time.Minute); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", lifecycle.KeyTimeout, err))
	}

	for _, child := range set.List(lifecycle.KeyChildren) {
		if err := provision.ValidateRef(child); err != nil {
			problems = append(problems, fmt.Sprintf("child %q: %v", child, err))
			continue
		}
		// A child inherits each schedule slot it does not set itself.
		derived := set.Subset("child." + child)
		for _, slot := range schedule.Slots {
			if v, ok := set[slot.Key()]; ok && !derived.Has(slot.Key()) {
				derived[slot.Key()] = v
			}
		}
		if _, err := schedule.Parse(derived); err != nil {
			problems = append(problems, fmt.Sprintf("child %q schedule: %v", child, err))
		}
	}
	return problems
}

func describeBlob(out io.Writer, path string, set paramset.Set) {
	sched, _ := schedule.Parse(set) //nolint:errcheck // checked by checkBlob
	fmt.Fprintf(out, "%s: ok\n", path)
	if name := set.String(lifecycle.KeyName, ""); name != "" {
		fmt.Fprintf(out, "  name:     %s\n", name)
	}
	if parents := set.List(lifecycle.KeyParents); len(parents) > 0 {
		fmt.Fprintf(out, "  parents:  %v\n", parents)
	}
	if children := set.List(lifecycle.KeyChildren); len(children) > 0 {
		fmt.Fprintf(out, "  children: %v\n", children)
	}
	for _, slot := range schedule.Slots {
		if t := sched.At(slot); !t.IsZero() {
			fmt.Fprintf(out, "  %-8s  %s\n", slot.String()+":", t.UTC().Format(time.RFC3339))
		}
	}
}
