package types

import (
	"net/netip"
	"regexp"

	"github.com/grangefarm/grange/pkg/config"
)

// hostnameRegexp expresses DNS-label grammar: dot-separated labels of
// letters, digits and interior hyphens.
var hostnameRegexp = regexp.MustCompile(
	`^(([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9])\.)*` +
		`([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9\-]*[A-Za-z0-9])$`)

// Validator checks agents, jobs and queues against the configured
// bounds. It has no side effects and no transport dependencies, so the
// assignment engine can reuse it directly.
type Validator struct {
	Limits        config.Limits
	AllowLoopback bool
}

// NewValidator builds a Validator from the configuration.
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{
		Limits:        cfg.Limits,
		AllowLoopback: cfg.Agents.AllowLoopback,
	}
}

// ValidateHostname checks value against DNS-label grammar.
func ValidateHostname(value string) error {
	if value == "" || len(value) > 255 || !hostnameRegexp.MatchString(value) {
		return &ValidationError{Field: "hostname", Value: value, Reason: "not a valid hostname"}
	}
	return nil
}

// ValidateAddress checks that value is a usable unicast IPv4 address:
// not unspecified, not a broadcast/hostmask value, not link-local, not
// multicast, not in the reserved 240.0.0.0/4 block, and not loopback
// unless allowLoopback is set. An empty address is accepted; agents may
// register before their address is known.
func ValidateAddress(value string, allowLoopback bool) error {
	if value == "" {
		return nil
	}

	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is4() {
		return &ValidationError{Field: "address", Value: value, Reason: "not a valid IPv4 address"}
	}

	b := addr.As4()
	switch {
	case addr.IsUnspecified():
		return &ValidationError{Field: "address", Value: value, Reason: "unspecified address"}
	case b == [4]byte{255, 255, 255, 255}:
		return &ValidationError{Field: "address", Value: value, Reason: "broadcast address"}
	case addr.IsLoopback() && !allowLoopback:
		return &ValidationError{Field: "address", Value: value, Reason: "loopback address"}
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return &ValidationError{Field: "address", Value: value, Reason: "link-local address"}
	case addr.IsMulticast():
		return &ValidationError{Field: "address", Value: value, Reason: "multicast address"}
	case b[0] >= 240 && !addr.IsLoopback():
		return &ValidationError{Field: "address", Value: value, Reason: "reserved address"}
	}
	return nil
}

// validateRange rejects values outside [min, max].
func validateRange(field string, value, min, max int) error {
	if value < min || value > max {
		return &ValidationError{Field: field, Value: value, Min: min, Max: max}
	}
	return nil
}

// validateRangeOrSpecial is validateRange with a sentinel escape hatch,
// used for job cpus/ram where 0 and -1 have meaning.
func validateRangeOrSpecial(field string, value, min, max int, special []int) error {
	for _, s := range special {
		if value == s {
			return nil
		}
	}
	return validateRange(field, value, min, max)
}

func validateAllocation(field string, value float64) error {
	if value < 0 || value > 1 {
		return &ValidationError{Field: field, Value: value, Min: 0.0, Max: 1.0}
	}
	return nil
}

// ValidateAgent checks every bounded and grammar-constrained field on
// an agent. Nothing is mutated.
func (v *Validator) ValidateAgent(a *Agent) error {
	if err := ValidateHostname(a.Hostname); err != nil {
		return err
	}
	if err := ValidateAddress(a.Address, v.AllowLoopback); err != nil {
		return err
	}
	if err := validateRange("port", a.Port, v.Limits.MinPort, v.Limits.MaxPort); err != nil {
		return err
	}
	if err := validateRange("cpus", a.CPUs, v.Limits.MinCPUs, v.Limits.MaxCPUs); err != nil {
		return err
	}
	if err := validateRange("ram", a.RAM, v.Limits.MinRAM, v.Limits.MaxRAM); err != nil {
		return err
	}
	if a.FreeRAM < 0 || a.FreeRAM > a.RAM {
		return &ValidationError{Field: "free_ram", Value: a.FreeRAM, Min: 0, Max: a.RAM}
	}
	if err := validateAllocation("ram_allocation", a.RAMAllocation); err != nil {
		return err
	}
	if err := validateAllocation("cpu_allocation", a.CPUAllocation); err != nil {
		return err
	}
	switch a.State {
	case AgentOffline, AgentOnline, AgentDisabled, AgentRunning:
	default:
		return &ValidationError{Field: "state", Value: a.State, Reason: "not a valid agent state"}
	}
	return nil
}

// ValidateJob checks a job's bounded fields, honoring the configured
// sentinel sets for cpus and ram.
func (v *Validator) ValidateJob(j *Job) error {
	if j.Title == "" {
		return &ValidationError{Field: "title", Value: j.Title, Reason: "must not be empty"}
	}
	if err := validateRange("priority", j.Priority, v.Limits.MinPriority, v.Limits.MaxPriority); err != nil {
		return err
	}
	if err := validateRangeOrSpecial("cpus", j.CPUs, v.Limits.MinCPUs, v.Limits.MaxCPUs, v.Limits.SpecialCPUs); err != nil {
		return err
	}
	if err := validateRangeOrSpecial("ram", j.RAM, v.Limits.MinRAM, v.Limits.MaxRAM, v.Limits.SpecialRAM); err != nil {
		return err
	}
	if j.By <= 0 {
		return &ValidationError{Field: "by", Value: j.By, Reason: "frame step must be positive"}
	}
	if j.End < j.Start {
		return &ValidationError{Field: "end", Value: j.End, Reason: "frame range end before start"}
	}
	if j.Batch < 1 {
		return &ValidationError{Field: "batch", Value: j.Batch, Min: 1, Max: int(^uint(0) >> 1)}
	}
	if j.Tiles < 0 {
		return &ValidationError{Field: "tiles", Value: j.Tiles, Reason: "must not be negative"}
	}
	if j.Requeue < RequeueForever {
		return &ValidationError{Field: "requeue", Value: j.Requeue, Reason: "must be -1, 0 or a positive count"}
	}
	for _, req := range j.SoftwareRequirements {
		if req.Software == "" {
			return &ValidationError{Field: "software", Value: req.Software, Reason: "requirement names no software"}
		}
		if req.MinRank != nil && req.MaxRank != nil && *req.MaxRank < *req.MinRank {
			return &ValidationError{Field: "software", Value: req.Software, Reason: "max version rank below min"}
		}
	}
	return nil
}

// ValidateQueue checks a job queue's fields.
func (v *Validator) ValidateQueue(q *JobQueue) error {
	if q.Name == "" {
		return &ValidationError{Field: "name", Value: q.Name, Reason: "must not be empty"}
	}
	if err := validateRange("priority", q.Priority, v.Limits.MinPriority, v.Limits.MaxPriority); err != nil {
		return err
	}
	if q.Weight < 0 {
		return &ValidationError{Field: "weight", Value: q.Weight, Reason: "must not be negative"}
	}
	if q.MinimumAgents < 0 {
		return &ValidationError{Field: "minimum_agents", Value: q.MinimumAgents, Reason: "must not be negative"}
	}
	if q.MaximumAgents < 0 {
		return &ValidationError{Field: "maximum_agents", Value: q.MaximumAgents, Reason: "must not be negative"}
	}
	if q.MaximumAgents > 0 && q.MinimumAgents > q.MaximumAgents {
		return &ValidationError{Field: "minimum_agents", Value: q.MinimumAgents, Min: 0, Max: q.MaximumAgents}
	}
	return nil
}

// SetPort mutates a.Port after re-validating against the configured
// bounds. The mutation is not applied on error.
func (v *Validator) SetPort(a *Agent, port int) error {
	if err := validateRange("port", port, v.Limits.MinPort, v.Limits.MaxPort); err != nil {
		return err
	}
	a.Port = port
	return nil
}

// SetCPUs mutates a.CPUs within bounds.
func (v *Validator) SetCPUs(a *Agent, cpus int) error {
	if err := validateRange("cpus", cpus, v.Limits.MinCPUs, v.Limits.MaxCPUs); err != nil {
		return err
	}
	a.CPUs = cpus
	return nil
}

// SetRAM mutates a.RAM within bounds and clamps FreeRAM to the new
// installed amount.
func (v *Validator) SetRAM(a *Agent, ram int) error {
	if err := validateRange("ram", ram, v.Limits.MinRAM, v.Limits.MaxRAM); err != nil {
		return err
	}
	a.RAM = ram
	if a.FreeRAM > ram {
		a.FreeRAM = ram
	}
	return nil
}

// SetRAMAllocation mutates the committed-RAM budget fraction.
func (v *Validator) SetRAMAllocation(a *Agent, alloc float64) error {
	if err := validateAllocation("ram_allocation", alloc); err != nil {
		return err
	}
	a.RAMAllocation = alloc
	return nil
}

// SetCPUAllocation mutates the committed-CPU budget fraction.
func (v *Validator) SetCPUAllocation(a *Agent, alloc float64) error {
	if err := validateAllocation("cpu_allocation", alloc); err != nil {
		return err
	}
	a.CPUAllocation = alloc
	return nil
}

// SetHostname mutates a.Hostname after grammar validation.
func (v *Validator) SetHostname(a *Agent, hostname string) error {
	if err := ValidateHostname(hostname); err != nil {
		return err
	}
	a.Hostname = hostname
	return nil
}

// SetAddress mutates a.Address after address validation.
func (v *Validator) SetAddress(a *Agent, address string) error {
	if err := ValidateAddress(address, v.AllowLoopback); err != nil {
		return err
	}
	a.Address = address
	return nil
}

// Satisfies reports whether an installed software set meets a
// requirement: same software name with a version whose rank falls in
// the requirement's range.
func (r *SoftwareRequirement) Satisfies(installed []*SoftwareVersion) bool {
	for _, sv := range installed {
		if sv.Software != r.Software {
			continue
		}
		if r.MinRank != nil && sv.Rank < *r.MinRank {
			continue
		}
		if r.MaxRank != nil && sv.Rank > *r.MaxRank {
			continue
		}
		return true
	}
	return false
}
