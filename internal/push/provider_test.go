package push

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelFor(t *testing.T) {
	require.Equal(t, "skillup_alerts", ChannelFor("alert"))
	require.Equal(t, "skillup_alerts", ChannelFor(" ALERT "))
	require.Equal(t, "skillup_promotions", ChannelFor("promo"))
	require.Equal(t, "skillup_updates", ChannelFor("update"))

	// Unknown kinds land on the update channel.
	require.Equal(t, "skillup_updates", ChannelFor(""))
	require.Equal(t, "skillup_updates", ChannelFor("something-new"))
}

func TestIsPermanentTokenError(t *testing.T) {
	require.False(t, IsPermanentTokenError(nil))
	require.False(t, IsPermanentTokenError(errors.New("http error status: 503; reason: unavailable")))

	require.True(t, IsPermanentTokenError(errors.New("registration-token-not-registered")))
	require.True(t, IsPermanentTokenError(errors.New("invalid-registration-token supplied")))
	require.True(t, IsPermanentTokenError(errors.New("requested entity was unregistered")))
}

func TestOutcomeOK(t *testing.T) {
	require.True(t, Outcome{Token: "t"}.OK())
	require.False(t, Outcome{Token: "t", Err: errors.New("boom")}.OK())
}
