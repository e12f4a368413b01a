package discovery

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// ObservedUnit is a transient row from the service manager listing. It
// is never persisted directly; the scanner merges it into the registry.
type ObservedUnit struct {
	Name        string
	RunState    string
	Description string
}

// UnitSource enumerates service units and resolves their main PIDs.
type UnitSource interface {
	ListUnits(ctx context.Context) ([]ObservedUnit, error)

	// MainPID returns the unit's main process ID, or 0 when the unit
	// has no running main process. A 0 result is not an error.
	MainPID(ctx context.Context, unit string) (int, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	msg := strings.TrimSpace(string(out))
	if err != nil {
		if msg == "" {
			return "", fmt.Errorf("%s %s failed: %w", name, strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("%s %s failed: %s", name, strings.Join(args, " "), msg)
	}
	return msg, nil
}

var mainPIDRE = regexp.MustCompile(`MainPID=(\d+)`)

// ParseUnitList parses `systemctl list-units --plain` style output. Each
// row tokenizes as: name, load state, active state, sub state, then the
// free-form description. Rows with fewer than four tokens, the column
// heading, and non-service entries are dropped; row order is preserved.
func ParseUnitList(raw string) []ObservedUnit {
	var units []ObservedUnit
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		name := fields[0]
		if name == "UNIT" || !strings.HasSuffix(name, ".service") {
			continue
		}
		desc := ""
		if len(fields) > 4 {
			desc = strings.Join(fields[4:], " ")
		}
		units = append(units, ObservedUnit{
			Name:        name,
			RunState:    fields[2],
			Description: desc,
		})
	}
	return units
}

// ExecUnitSource queries the service manager through its CLI (systemctl
// by default). Both command lines are configurable; the unit name is
// appended to the PID command.
type ExecUnitSource struct {
	listCommand []string
	pidCommand  []string
	runner      commandRunner
}

func NewExecUnitSource(listCommand, pidCommand []string) *ExecUnitSource {
	return &ExecUnitSource{
		listCommand: listCommand,
		pidCommand:  pidCommand,
		runner:      runCommand,
	}
}

func (s *ExecUnitSource) ListUnits(ctx context.Context) ([]ObservedUnit, error) {
	out, err := s.runner(ctx, s.listCommand[0], s.listCommand[1:]...)
	if err != nil {
		return nil, &Error{Kind: ErrKindToolFailed, Msg: "list units: " + err.Error(), Err: err}
	}
	return ParseUnitList(out), nil
}

func (s *ExecUnitSource) MainPID(ctx context.Context, unit string) (int, error) {
	args := make([]string, 0, len(s.pidCommand))
	args = append(args, s.pidCommand[1:]...)
	args = append(args, unit)
	out, err := s.runner(ctx, s.pidCommand[0], args...)
	if err != nil {
		return 0, &Error{Kind: ErrKindToolFailed, Msg: "main pid for " + unit + ": " + err.Error(), Err: err}
	}
	return parseMainPID(out), nil
}

// parseMainPID reads `MainPID=<n>` output, or a bare number as printed
// by `systemctl show --value`. Anything else means no running PID.
func parseMainPID(out string) int {
	token := strings.TrimSpace(out)
	if match := mainPIDRE.FindStringSubmatch(out); match != nil {
		token = match[1]
	}
	pid, err := strconv.Atoi(token)
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
