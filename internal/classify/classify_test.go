package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_Classify(t *testing.T) {
	c := New()

	tests := []struct {
		query string
		want  Category
	}{
		{"I lost ₹5000 via a fake UPI request", CategoryFinancialFraud},
		{"someone sent me a suspicious link asking for my OTP", CategoryPhishing},
		{"a person keeps harassing me on Instagram", CategoryStalking},
		{"they are blackmailing me with a morphed photo", CategorySextortion},
		{"I paid a registration fee for a work from home job", CategoryJobFraud},
		{"someone made a fake profile with my photos", CategoryIdentityTheft},
		{"my laptop is infected with ransomware", CategoryHacking},
		{"what is the weather today", CategoryUnclassified},
		{"", CategoryUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := c.Classify(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifier_Classify_CaseInsensitive(t *testing.T) {
	c := New()

	got, err := c.Classify("FAKE UPI REQUEST DRAINED MY ACCOUNT")
	require.NoError(t, err)
	assert.Equal(t, CategoryFinancialFraud, got)
}
