package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testConfig("http://127.0.0.1:1/api/query"))

	c, err := app.newScheduler(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 4)

	var names []string
	for _, job := range app.scheduledJobs() {
		names = append(names, job.name)
	}
	assert.Equal(t, []string{"content_fetch", "summary_backfill", "dispatch_poll", "delivery_recovery"}, names)
	assert.Equal(t, "@every 1m0s", app.scheduledJobs()[2].spec)
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	t.Parallel()
	cfg := testConfig("http://127.0.0.1:1/api/query")
	cfg.Schedule.FetchCron = "every tuesday"
	app := newTestApp(t, cfg)

	_, err := app.newScheduler(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content_fetch")
}

func TestScheduledDeliveryJobsOnEmptyDatabase(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testConfig("http://127.0.0.1:1/api/query"))

	for _, job := range app.scheduledJobs()[2:] {
		assert.NoError(t, job.run(context.Background()), job.name)
	}
}
