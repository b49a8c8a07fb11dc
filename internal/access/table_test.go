package access

import (
	"testing"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	gov := "0x00000000000000000000000000000000000000a1"
	guard := "0x00000000000000000000000000000000000000b2"

	tbl, err := FromConfig(map[string][]string{
		"governance": {gov},
		"guardian":   {guard, gov},
	})
	require.NoError(t, err)

	c := tbl.Caller(common.HexToAddress(gov))
	assert.True(t, c.Has(domain.RoleGovernance))
	assert.True(t, c.Has(domain.RoleGuardian))
	assert.False(t, c.Has(domain.RoleKeeper))

	anon := tbl.Caller(common.HexToAddress("0x01"))
	assert.Equal(t, domain.Role(0), anon.Roles)

	assert.Len(t, tbl.Holders(domain.RoleGuardian), 2)
}

func TestFromConfigRejectsBadInput(t *testing.T) {
	_, err := FromConfig(map[string][]string{"admin": {"0x00000000000000000000000000000000000000a1"}})
	assert.Error(t, err)

	_, err = FromConfig(map[string][]string{"keeper": {"nope"}})
	assert.Error(t, err)
}

func TestGrantRevoke(t *testing.T) {
	tbl := NewTable()
	a := common.HexToAddress("0xc3")
	tbl.Grant(a, domain.RoleKeeper)
	tbl.Grant(a, domain.RoleStrategist)
	assert.Equal(t, "strategist|keeper", tbl.Caller(a).Roles.String())

	tbl.Revoke(a, domain.RoleKeeper)
	assert.Equal(t, domain.RoleStrategist, tbl.Caller(a).Roles)
	tbl.Revoke(a, domain.RoleStrategist)
	assert.Empty(t, tbl.Holders(domain.RoleStrategist))
}
