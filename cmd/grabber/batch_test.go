package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinks(t *testing.T) {
	in := `
# weekend list
https://site.test/v/1
   https://site.test/v/2

#https://site.test/v/3
`
	links, err := parseLinks(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://site.test/v/1", "https://site.test/v/2"}, links)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "fetch", "batch", "sweep"} {
		assert.True(t, names[want], want)
	}
}
