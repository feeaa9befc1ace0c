package main

import (
	"os"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// golang images run with GOTOOLCHAIN=local, so the builder has to satisfy the go directive on its own.
func TestDockerBuilderMatchesGoDirective(t *testing.T) {
	mod, err := os.ReadFile("../go.mod")
	require.NoError(t, err)
	docker, err := os.ReadFile("../Dockerfile")
	require.NoError(t, err)

	goLine := regexp.MustCompile(`(?m)^go (\d+)\.(\d+)(?:\.\d+)?$`).FindSubmatch(mod)
	require.NotNil(t, goLine, "go.mod has no go directive")
	builder := regexp.MustCompile(`(?m)^FROM golang:(\d+)\.(\d+)\S* AS build$`).FindSubmatch(docker)
	require.NotNil(t, builder, "Dockerfile has no golang build stage")

	assert.Equal(t, string(goLine[1])+"."+string(goLine[2]), string(builder[1])+"."+string(builder[2]))
	minor, err := strconv.Atoi(string(goLine[2]))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, minor, 24, "x/crypto v0.42.0 needs go 1.24")
}

func TestDockerBuildResolvesModules(t *testing.T) {
	docker, err := os.ReadFile("../Dockerfile")
	require.NoError(t, err)
	if _, err := os.Stat("../go.sum"); err == nil {
		return
	}
	assert.Regexp(t, `(?m)^RUN go mod tidy`, string(docker), "without go.sum the build must tidy first")
}
