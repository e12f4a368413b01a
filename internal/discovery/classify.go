package discovery

// Stage is a service's lifecycle stage in the registry.
type Stage string

const (
	// StageRaw marks a unit with no detected web-like listener.
	StageRaw Stage = "raw"
	// StageDiscovered marks an auto-detected web service awaiting
	// user configuration.
	StageDiscovered Stage = "discovered"
	// StageConfigured marks a user-curated service shown on the
	// dashboard. Only the configuration path sets it; a scan never
	// moves a record out of this stage.
	StageConfigured Stage = "configured"
)

// ValidStage reports whether s is one of the known lifecycle stages.
func ValidStage(s Stage) bool {
	switch s {
	case StageRaw, StageDiscovered, StageConfigured:
		return true
	}
	return false
}

// Classification is the initial stage assigned to a freshly observed
// unit. Port is set only when Stage is StageDiscovered.
type Classification struct {
	Stage Stage
	Port  int
}

// Classify assigns the initial lifecycle stage for a unit whose main
// process is pid, given the full port map of the host. pid <= 0 means
// the unit is not running. Among multiple web-like bindings the first
// one in enumeration order wins.
func Classify(pid int, bindings []PortBinding) Classification {
	if pid <= 0 {
		return Classification{Stage: StageRaw}
	}
	for _, b := range PortsForPID(bindings, pid) {
		if IsWebPort(b.Port) {
			return Classification{Stage: StageDiscovered, Port: b.Port}
		}
	}
	return Classification{Stage: StageRaw}
}
