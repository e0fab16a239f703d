package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackline/internal/authority"
	"trackline/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default("prog-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "prog-1", cfg.Program.ID)
	assert.Equal(t, []string{"lead"}, cfg.Escalation.Notify[1])
}

func TestCustomProfileValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		ok   bool
	}{
		{"valid", "program:\n  id: p\nprofiles:\n  custom:\n    fast: [25, 50, 75]\n", true},
		{"not increasing", "program:\n  id: p\nprofiles:\n  custom:\n    bad: [50, 50]\n", false},
		{"out of range", "program:\n  id: p\nprofiles:\n  custom:\n    bad: [0, 50]\n", false},
		{"over 100", "program:\n  id: p\nprofiles:\n  custom:\n    bad: [50, 120]\n", false},
		{"too many", "program:\n  id: p\nprofiles:\n  custom:\n    bad: [10, 20, 30, 40, 50, 60]\n", false},
		{"shadows builtin", "program:\n  id: p\nprofiles:\n  custom:\n    standard: [10, 20]\n", false},
		{"unknown notify role", "program:\n  id: p\nescalation:\n  notify:\n    1: [janitor]\n", false},
		{"notify level out of range", "program:\n  id: p\nescalation:\n  notify:\n    4: [admin]\n", false},
	}
	for _, tc := range cases {
		_, err := config.FromYAML([]byte(tc.yaml))
		if tc.ok {
			assert.NoError(t, err, tc.name)
		} else {
			assert.Error(t, err, tc.name)
		}
	}
}

func TestRecipientsAccumulateByLevel(t *testing.T) {
	cfg := config.Default("prog-1")
	assert.Equal(t, []authority.Role{authority.RoleLead}, cfg.Recipients(1))
	assert.Equal(t, []authority.Role{authority.RoleLead, authority.RoleOwner}, cfg.Recipients(2))
	assert.Equal(t, []authority.Role{authority.RoleLead, authority.RoleOwner, authority.RoleAdmin}, cfg.Recipients(3))
}
