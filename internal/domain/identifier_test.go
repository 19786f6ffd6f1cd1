package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectIdentifierType(t *testing.T) {
	cases := []struct {
		identifier string
		want       IdentifierType
	}{
		{"US0378331005", IdentifierISIN},
		{"ES0113900J37", IdentifierISIN},
		{"AAPL.US", IdentifierTradernet},
		{"VOW3.EU", IdentifierTradernet},
		{"AAPL", IdentifierYahoo},
		{"0700.HK", IdentifierTradernet},
		{"BRK-B", IdentifierYahoo},
		{" aapl.us ", IdentifierTradernet},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectIdentifierType(tc.identifier), tc.identifier)
	}
}

func TestRecommendationStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusExecuted))
	assert.True(t, StatusPending.CanTransitionTo(StatusDismissed))
	assert.False(t, StatusExecuted.CanTransitionTo(StatusPending))
	assert.False(t, StatusExecuted.CanTransitionTo(StatusDismissed))
	assert.False(t, StatusDismissed.CanTransitionTo(StatusExecuted))
}
