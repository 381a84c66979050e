package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/noah-isme/school-sms-api/pkg/errors"
)

func TestNormalizePhoneAcceptedForms(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"local format", "0821234567", "+27821234567"},
		{"country code no plus", "27821234567", "+27821234567"},
		{"full international", "+27821234567", "+27821234567"},
		{"spaces and hyphens", "082 123-4567", "+27821234567"},
		{"parentheses", "(082) 123 4567", "+27821234567"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizePhoneSameSubscriberSameCanonical(t *testing.T) {
	forms := []string{"0721234567", "27721234567", "+27721234567"}
	first, err := NormalizePhone(forms[0])
	require.NoError(t, err)
	for _, form := range forms[1:] {
		got, err := NormalizePhone(form)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	once, err := NormalizePhone("0821234567")
	require.NoError(t, err)
	twice, err := NormalizePhone(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizePhoneRejections(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"letters", "082abc4567"},
		{"too short local", "082123456"},
		{"too long local", "08212345678"},
		{"wrong country code", "+44821234567"},
		{"bare plus", "+"},
		{"plus wrong length", "+2782123456"},
		{"no recognised prefix", "821234567"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizePhone(tc.input)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidPhone))
		})
	}
}

func TestPhoneWireRoundTrip(t *testing.T) {
	assert.Equal(t, "27821234567", PhoneToWire("+27821234567"))
	assert.Equal(t, "+27821234567", PhoneFromWire("27821234567"))
	assert.Equal(t, "+27821234567", PhoneFromWire("+27821234567"))
}
