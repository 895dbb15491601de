package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/paycollect/internal/roster"
)

func scheduleRows(out string) map[string]string {
	rows := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		f := strings.Fields(line)
		if len(f) == 2 {
			rows[f[0]] = f[1]
		}
	}
	return rows
}

func TestPrintSchedule(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSchedule(&buf, 3, 600, 0.5))

	rows := scheduleRows(buf.String())
	assert.Equal(t, "343", rows["#1"])
	assert.Equal(t, "171", rows["#2"])
	assert.Equal(t, "86", rows["#3"])
	assert.Equal(t, "600", rows["total"])
	assert.Equal(t, "-50.00%", rows["step"])
}

func TestQuoteCmd(t *testing.T) {
	cmd := quoteCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"-n", "2", "-a", "100"})
	require.NoError(t, cmd.Execute())

	rows := scheduleRows(buf.String())
	assert.Equal(t, "50", rows["#1"])
	assert.Equal(t, "50", rows["#2"])

	cmd = quoteCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-n", "2", "-a", "100", "-r", "1.5"})
	assert.Error(t, cmd.Execute())
}

type staticSource struct{ p *roster.Payload }

func (s staticSource) FetchRoster(context.Context) (*roster.Payload, error) { return s.p, nil }

type memoryRoster struct {
	snap   *roster.Snapshot
	writes int
}

func (m *memoryRoster) LoadRoster(context.Context) (*roster.Snapshot, error) {
	if m.snap == nil {
		return nil, roster.ErrUnavailable
	}
	return m.snap, nil
}

func (m *memoryRoster) ReplaceRoster(_ context.Context, p roster.Payload) (*roster.Snapshot, error) {
	m.writes++
	m.snap = &roster.Snapshot{ParticipantIDs: p.ParticipantIDs, TotalParticipants: p.TotalParticipants, TotalAmount: p.TotalAmount}
	return m.snap, nil
}

func TestRunSync_ReportsChangeAgainstStoredRoster(t *testing.T) {
	src := staticSource{p: &roster.Payload{ParticipantIDs: []string{"alice"}, TotalParticipants: 1, TotalAmount: 10}}
	store := &memoryRoster{}
	cfg := roster.SyncConfig{Interval: time.Second, BackoffBase: time.Second, BackoffMax: time.Second}

	var buf bytes.Buffer
	require.NoError(t, runSync(context.Background(), &buf, roster.NewSynchronizer(src, store, nil, cfg), store))
	assert.Contains(t, buf.String(), "changed: true")
	assert.Equal(t, 1, store.writes)

	// A fresh run against the same stored content writes nothing.
	buf.Reset()
	require.NoError(t, runSync(context.Background(), &buf, roster.NewSynchronizer(src, store, nil, cfg), store))
	assert.Contains(t, buf.String(), "changed: false")
	assert.Equal(t, 1, store.writes)
}
