package ovio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.RTP.FramesToBufferPerStream)
	assert.EqualValues(t, 10_000_000, cfg.Bridge.ResponseTimeoutUsec)
	assert.True(t, cfg.Cache.EnableCaching)
}

func TestParseConfigEmptyReturnsDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigOverridesOnlyGivenFields(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"rtp":{"num_frames_to_buffer_per_stream":5},"socket":{"host":"0.0.0.0","port":9000,"type":"TCP"}}`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RTP.FramesToBufferPerStream)
	assert.Equal(t, "0.0.0.0", cfg.Socket.Host)
	assert.Equal(t, 9000, cfg.Socket.Port)
	assert.EqualValues(t, 10_000_000, cfg.Bridge.ResponseTimeoutUsec, "unset fields keep the default")
}

func TestParseConfigRejectsInvalidJSON(t *testing.T) {
	_, err := ParseConfig([]byte(`not json`))
	require.Error(t, err)
}
