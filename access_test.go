package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveAccess(t *testing.T) {
	cases := []struct {
		name       string
		requested  AccessMode
		advertised AccessMode
		granted    AccessMode
		ok         bool
	}{
		{"read against all", AccessRead, AccessAll, AccessRead, true},
		{"write against all", AccessWrite, AccessAll, AccessWrite, true},
		{"all against all", AccessAll, AccessAll, AccessAll, true},
		{"read against read", AccessRead, AccessRead, AccessRead, true},
		{"write against read denied", AccessWrite, AccessRead, AccessError, false},
		{"all against read denied", AccessAll, AccessRead, AccessError, false},
		{"write against write", AccessWrite, AccessWrite, AccessWrite, true},
		{"read against write denied", AccessRead, AccessWrite, AccessError, false},
		{"all against write denied", AccessAll, AccessWrite, AccessError, false},
		{"anything against error denied", AccessRead, AccessError, AccessError, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			granted, ok := ResolveAccess(tc.requested, tc.advertised)
			assert.Equal(t, tc.granted, granted)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestAccessModePermits(t *testing.T) {
	assert.True(t, AccessAll.Permits(TypeCommand))
	assert.True(t, AccessAll.Permits(TypeData))
	assert.True(t, AccessRead.Permits(TypeData))
	assert.False(t, AccessRead.Permits(TypeCommand))
	assert.True(t, AccessWrite.Permits(TypeCommand))
	assert.False(t, AccessWrite.Permits(TypeData))
	assert.True(t, AccessWrite.Permits(TypeRequest))
	assert.True(t, AccessError.Permits(TypeRespAck))
	assert.False(t, AccessError.Permits(TypeData))
}
