package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashURL(t *testing.T) {
	a := HashURL("https://site.test")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashURL("https://site.test"))
	assert.NotEqual(t, a, HashURL("http://site.test"))
}

func TestToAbsoluteURL(t *testing.T) {
	base, err := url.Parse("https://site.test/docs/index.html")
	require.NoError(t, err)

	got, err := ToAbsoluteURL(base, "../about")
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/about", got)

	_, err = ToAbsoluteURL(base, "%zz")
	assert.Error(t, err)
}

func TestOrigin(t *testing.T) {
	u, err := url.Parse("https://site.test:8443/a?b=c")
	require.NoError(t, err)
	assert.Equal(t, "https://site.test:8443", Origin(u))
}
