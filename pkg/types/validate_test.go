package types

import (
	"testing"

	"github.com/grangefarm/grange/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValidator() *Validator {
	return NewValidator(config.Default())
}

func validAgent() *Agent {
	return &Agent{
		ID:            "agent-1",
		Hostname:      "wolf01.farm.example.com",
		Address:       "10.0.0.5",
		Port:          50000,
		CPUs:          8,
		RAM:           4096,
		FreeRAM:       4096,
		RAMAllocation: 0.8,
		CPUAllocation: 1.0,
		State:         AgentOnline,
	}
}

func TestValidateHostname(t *testing.T) {
	tests := []struct {
		hostname string
		ok       bool
	}{
		{"wolf01", true},
		{"wolf01.farm.example.com", true},
		{"a", true},
		{"render-node-7", true},
		{"0numeric", true},
		{"", false},
		{"-leading", false},
		{"trailing-", false},
		{"double..dot", false},
		{"under_score", false},
		{"spa ce", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			err := ValidateHostname(tt.hostname)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name          string
		address       string
		allowLoopback bool
		ok            bool
	}{
		{"private unicast", "10.0.0.5", false, true},
		{"public unicast", "8.8.8.8", false, true},
		{"empty accepted", "", false, true},
		{"hostname rejected", "wolf01", false, false},
		{"ipv6 rejected", "::1", false, false},
		{"unspecified", "0.0.0.0", false, false},
		{"broadcast", "255.255.255.255", false, false},
		{"loopback rejected", "127.0.0.1", false, false},
		{"loopback allowed", "127.0.0.1", true, true},
		{"link local", "169.254.1.1", false, false},
		{"multicast", "224.0.0.1", false, false},
		{"reserved block", "240.0.0.1", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address, tt.allowLoopback)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateAgentBounds(t *testing.T) {
	v := testValidator()

	tests := []struct {
		name   string
		mutate func(*Agent)
		field  string
	}{
		{"cpus below minimum", func(a *Agent) { a.CPUs = 0 }, "cpus"},
		{"cpus above maximum", func(a *Agent) { a.CPUs = 300 }, "cpus"},
		{"ram below minimum", func(a *Agent) { a.RAM = 8 }, "ram"},
		{"ram above maximum", func(a *Agent) { a.RAM = 300000 }, "ram"},
		{"port privileged", func(a *Agent) { a.Port = 80 }, "port"},
		{"free ram above installed", func(a *Agent) { a.FreeRAM = 9999 }, "free_ram"},
		{"allocation above one", func(a *Agent) { a.RAMAllocation = 1.5 }, "ram_allocation"},
		{"negative allocation", func(a *Agent) { a.CPUAllocation = -0.1 }, "cpu_allocation"},
		{"unknown state", func(a *Agent) { a.State = "sleeping" }, "state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := validAgent()
			tt.mutate(agent)

			err := v.ValidateAgent(agent)
			require.Error(t, err)

			verr, ok := err.(*ValidationError)
			require.True(t, ok, "expected ValidationError, got %T", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.NoError(t, v.ValidateAgent(validAgent()))
}

func TestValidateJobSentinels(t *testing.T) {
	v := testValidator()

	job := &Job{Title: "render", RAM: 1024, CPUs: 4, Start: 1, End: 10, By: 1, Batch: 1}
	require.NoError(t, v.ValidateJob(job))

	// 0 and -1 bypass the ram/cpus bounds.
	job.RAM = NoResourceFloor
	job.CPUs = ExclusiveResource
	assert.NoError(t, v.ValidateJob(job))

	job.RAM = 4
	err := v.ValidateJob(job)
	require.Error(t, err)
	assert.Equal(t, "ram", err.(*ValidationError).Field)
}

func TestValidateJobFrameRange(t *testing.T) {
	v := testValidator()

	job := &Job{Title: "render", Start: 10, End: 1, By: 1, Batch: 1}
	err := v.ValidateJob(job)
	require.Error(t, err)
	assert.Equal(t, "end", err.(*ValidationError).Field)

	job = &Job{Title: "render", Start: 1, End: 10, By: 0, Batch: 1}
	err = v.ValidateJob(job)
	require.Error(t, err)
	assert.Equal(t, "by", err.(*ValidationError).Field)
}

func TestSettersDoNotMutateOnError(t *testing.T) {
	v := testValidator()
	agent := validAgent()

	assert.Error(t, v.SetPort(agent, 80))
	assert.Equal(t, 50000, agent.Port)

	assert.Error(t, v.SetHostname(agent, "-bad-"))
	assert.Equal(t, "wolf01.farm.example.com", agent.Hostname)

	require.NoError(t, v.SetRAM(agent, 2048))
	assert.Equal(t, 2048, agent.RAM)
	assert.Equal(t, 2048, agent.FreeRAM, "free ram clamps to new installed amount")
}

func TestSoftwareRequirementSatisfies(t *testing.T) {
	installed := []*SoftwareVersion{
		{Software: "blender", Version: "3.6", Rank: 3},
		{Software: "blender", Version: "4.0", Rank: 6},
		{Software: "nuke", Version: "14", Rank: 1},
	}

	rank := func(n int) *int { return &n }

	tests := []struct {
		name string
		req  SoftwareRequirement
		want bool
	}{
		{"any version", SoftwareRequirement{Software: "blender"}, true},
		{"min met by newer install", SoftwareRequirement{Software: "blender", MinRank: rank(5)}, true},
		{"min unmet", SoftwareRequirement{Software: "nuke", MinRank: rank(2)}, false},
		{"bounded range", SoftwareRequirement{Software: "blender", MinRank: rank(2), MaxRank: rank(4)}, true},
		{"not installed", SoftwareRequirement{Software: "houdini"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Satisfies(installed))
		})
	}
}

func TestWorkStateTerminal(t *testing.T) {
	assert.True(t, WorkDone.Terminal())
	assert.True(t, WorkFailed.Terminal())
	assert.False(t, WorkQueued.Terminal())
	assert.False(t, WorkAssign.Terminal())
	assert.False(t, WorkRunning.Terminal())
}
