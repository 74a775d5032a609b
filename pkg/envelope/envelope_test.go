package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInbound() *Inbound {
	return &Inbound{
		V:              1,
		RequestID:      "req-1",
		DeliveryID:     "del-1",
		Channel:        "slack",
		ActorID:        "U123",
		IdempotencyKey: "k1",
		Fingerprint:    "f1",
		CommandText:    "/status",
	}
}

func TestInbound_Validate_OK(t *testing.T) {
	in := validInbound()
	require.NoError(t, in.Validate())
}

func TestInbound_Validate_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inbound)
	}{
		{"missing channel", func(in *Inbound) { in.Channel = "" }},
		{"missing request id", func(in *Inbound) { in.RequestID = "" }},
		{"missing delivery id", func(in *Inbound) { in.DeliveryID = "" }},
		{"missing idempotency key", func(in *Inbound) { in.IdempotencyKey = "" }},
		{"missing fingerprint", func(in *Inbound) { in.Fingerprint = "" }},
		{"missing actor id", func(in *Inbound) { in.ActorID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInbound()
			tt.mutate(in)
			assert.Error(t, in.Validate())
		})
	}
}

func TestAssuranceTier_Rank(t *testing.T) {
	assert.Greater(t, TierA.Rank(), TierB.Rank())
	assert.Greater(t, TierB.Rank(), TierC.Rank())
	assert.Equal(t, 0, AssuranceTier("bogus").Rank())
}

func TestInbound_Correlation(t *testing.T) {
	in := validInbound()
	in.ChannelTenantID = "T1"
	in.ChannelConversationID = "C1"
	in.ActorBindingID = "bind-1"

	corr := in.Correlation()
	assert.Equal(t, in.RequestID, corr.RequestID)
	assert.Equal(t, in.DeliveryID, corr.DeliveryID)
	assert.Equal(t, in.Channel, corr.Channel)
	assert.Equal(t, "T1", corr.ChannelTenantID)
	assert.Equal(t, "C1", corr.ChannelConversationID)
	assert.Equal(t, "bind-1", corr.ActorBindingID)
}
