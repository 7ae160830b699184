package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("http://example.com/track"))
	assert.True(t, isURL("https://example.com/track"))
	assert.False(t, isURL("never gonna give you up"))
	// "http" 开头的搜索词不是链接
	assert.False(t, isURL("httpd configuration song"))
	assert.False(t, isURL("http server blues"))
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "https://example.com/t", identifier("https://example.com/t"))
	assert.Equal(t, "ytsearch:hello world", identifier("hello world"))
	assert.Equal(t, "ytsearch:httpd configuration song", identifier("httpd configuration song"))
}
