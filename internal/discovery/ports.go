package discovery

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// PortBinding is one listening TCP socket and the process that owns it.
type PortBinding struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

// PortSource lists all listening TCP sockets with their owning PIDs.
type PortSource interface {
	ListListeningPorts(ctx context.Context) ([]PortBinding, error)
}

var (
	localPortRE = regexp.MustCompile(`:(\d+)\s`)
	ownerPIDRE  = regexp.MustCompile(`pid=(\d+)`)
)

var webPortRanges = [...][2]int{
	{3000, 3999},
	{4000, 4999},
	{5000, 5999},
	{8000, 8999},
}

// IsWebPort reports whether port matches the static heuristic for "this
// process is probably serving HTTP": 80, 443, or one of the common
// development port ranges.
func IsWebPort(port int) bool {
	if port == 80 || port == 443 {
		return true
	}
	for _, r := range webPortRanges {
		if port >= r[0] && port <= r[1] {
			return true
		}
	}
	return false
}

// PortsForPID filters bindings down to those owned by pid, preserving
// enumeration order.
func PortsForPID(bindings []PortBinding, pid int) []PortBinding {
	var out []PortBinding
	for _, b := range bindings {
		if b.PID == pid {
			out = append(out, b)
		}
	}
	return out
}

// ParsePortList extracts port/PID pairs from `ss -tlnp` style output.
// A row must carry both a local address port (IPv4 `0.0.0.0:80` or
// bracketed IPv6 `[::]:80`) and a `pid=` token; rows missing either are
// skipped, which covers the header and sockets without process info.
func ParsePortList(raw string) []PortBinding {
	var bindings []PortBinding
	for _, line := range strings.Split(raw, "\n") {
		portMatch := localPortRE.FindStringSubmatch(line)
		pidMatch := ownerPIDRE.FindStringSubmatch(line)
		if portMatch == nil || pidMatch == nil {
			continue
		}
		port, err := strconv.Atoi(portMatch[1])
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(pidMatch[1])
		if err != nil {
			continue
		}
		bindings = append(bindings, PortBinding{Port: port, PID: pid})
	}
	return bindings
}

// ExecPortSource shells out to the socket listing tool (ss by default).
type ExecPortSource struct {
	command []string
	runner  commandRunner
}

func NewExecPortSource(command []string) *ExecPortSource {
	return &ExecPortSource{command: command, runner: runCommand}
}

func (s *ExecPortSource) ListListeningPorts(ctx context.Context) ([]PortBinding, error) {
	out, err := s.runner(ctx, s.command[0], s.command[1:]...)
	if err != nil {
		return nil, &Error{Kind: ErrKindToolFailed, Msg: "list listening ports: " + err.Error(), Err: err}
	}
	return ParsePortList(out), nil
}
