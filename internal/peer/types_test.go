package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "inbound", DirectionInbound.String())
	assert.Equal(t, "outbound", DirectionOutboundRegular.String())
	assert.Equal(t, "seed-outbound", DirectionOutboundSeed.String())
	assert.False(t, DirectionInbound.IsOutbound())
	assert.True(t, DirectionOutboundRegular.IsOutbound())
	assert.True(t, DirectionOutboundSeed.IsOutbound())
}

func TestIdleResultString(t *testing.T) {
	assert.Equal(t, "not-idle", NotIdle.String())
	assert.Equal(t, "ping-timeout", ResultPingTimeout.String())
	assert.Equal(t, "global-timeout", ResultGlobalTimeout.String())
}

func TestDefaultSettingsMatchOriginalConstants(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, uint32(120), s.PingIntervalSeconds)
	assert.Equal(t, uint32(1800), s.IdleTimeoutSeconds)
	assert.Equal(t, 64*1024, s.MaxBytesPerIO)
}
