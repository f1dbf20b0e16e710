package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"iPhone 15 Pro Max 256GB", "iphone 15 pro max 256gb"},
		{"  iPhone   15  Pro ", "iphone 15 pro"},
		{"iPhone-15/Pro (Max)!", "iphone 15 pro max"},
		{"SAMSUNG Galaxy S24, Ultra", "samsung galaxy s24 ultra"},
		{"", ""},
		{"!!!", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeName(c.in), "input %q", c.in)
	}
}

func TestHashNameMatchesAcrossSpellings(t *testing.T) {
	a := HashName(NormalizeName("iPhone 15 Pro Max 256GB"))
	b := HashName(NormalizeName("iphone-15 pro max 256gb"))
	assert.Equal(t, a, b)

	c := HashName(NormalizeName("iPhone 15 Pro 256GB"))
	assert.NotEqual(t, a, c)
}

func TestFingerprint(t *testing.T) {
	l := RawListing{Name: "Galaxy S24 Ultra (512GB)"}
	l.Fingerprint()

	require.Equal(t, "galaxy s24 ultra 512gb", l.NormalizedName)
	assert.Equal(t, HashName(l.NormalizedName), l.NameHash)
	assert.NotZero(t, l.NameHash)
}
