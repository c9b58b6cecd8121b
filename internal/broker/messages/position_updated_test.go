package messages

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionUpdated_Validate(t *testing.T) {
	ok := PositionUpdated{JourneyID: "j", Latitude: 45.4064333, Longitude: 11.87676}
	require.NoError(t, ok.Validate())

	b := 10
	ok.BatteryPercent = &b
	require.NoError(t, ok.Validate())

	cases := []PositionUpdated{
		{JourneyID: "j", Latitude: math.NaN(), Longitude: 1},
		{JourneyID: "j", Latitude: 1, Longitude: math.Inf(1)},
		{JourneyID: "j", Latitude: 91, Longitude: 1},
		{JourneyID: "j", Latitude: 1, Longitude: -181},
	}
	for _, c := range cases {
		require.ErrorIs(t, c.Validate(), ErrMalformedPosition)
	}

	require.ErrorIs(t, PositionUpdated{Latitude: 1, Longitude: 1}.Validate(), ErrMalformedPosition)

	bad := 101
	require.ErrorIs(t, PositionUpdated{JourneyID: "j", BatteryPercent: &bad}.Validate(), ErrMalformedPosition)
}
