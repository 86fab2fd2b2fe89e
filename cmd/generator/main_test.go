package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAgencies(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"agencies"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "demo-transit")
	assert.Contains(t, out.String(), "Demo Transit Authority")
}

func TestRunRoutes(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"routes", "--agency", "demo-transit"}, &out, &errOut)
	assert.Equal(t, 0, code)
	for _, tag := range []string{"manhattan-loop", "brooklyn-express", "queens-connector"} {
		assert.Contains(t, out.String(), tag)
	}
}

func TestRunRoutesUnknownAgency(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"routes", "--agency", "nowhere"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Equal(t, "No routes found for agency: nowhere\n", out.String())
}

func TestRunRoutesRequiresAgency(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"routes"}, &out, &errOut))
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"launch"}, &out, &errOut))
	assert.Contains(t, errOut.String(), `unknown command "launch"`)
	assert.Equal(t, 2, run(nil, &out, &errOut))
}

func feedEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SINK", "discard")
	t.Setenv("AGENCY", "")
	t.Setenv("VEHICLES", "")
	t.Setenv("POLL_INTERVAL_MS", "")
	t.Setenv("METRICS_ADDR", "")
	t.Setenv("MAX_TICKS", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("HIGH_PERFORMANCE", "")
	t.Setenv("EVENT_FORMAT", "")
}

func TestRunFeedRejectsMissingAgency(t *testing.T) {
	feedEnv(t)
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"feed", "--ticks", "1"}, &out, &errOut))
}

func TestRunFeedRejectsNonPositiveValues(t *testing.T) {
	feedEnv(t)
	var out, errOut bytes.Buffer
	assert.Equal(t, 1, run([]string{"feed", "--agency", "demo-transit", "--vehicles", "0"}, &out, &errOut))
	assert.Equal(t, 1, run([]string{"feed", "--agency", "demo-transit", "--poll-interval", "0"}, &out, &errOut))
	assert.Equal(t, 1, run([]string{"feed", "--agency", "demo-transit", "--format", "xml"}, &out, &errOut))
}

func TestRunFeedDiscardSink(t *testing.T) {
	feedEnv(t)
	var out, errOut bytes.Buffer
	code := run([]string{"feed",
		"--agency", "demo-transit",
		"--route", "no-such-route",
		"--vehicles", "30",
		"--poll-interval", "0.01",
		"--ticks", "3",
		"--seed", "1",
	}, &out, &errOut)
	assert.Equal(t, 0, code)
}
