package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/models"
	"github.com/stingnet/sting-engine/pkg/services"
)

// fakeQuery answers the queries the admin commands make. Other methods panic.
type fakeQuery struct {
	services.QueryService
	counts   map[models.Kind]int64
	since    int64
	searched []string
}

func (f *fakeQuery) Count(_ context.Context, kind models.Kind) (int64, error) {
	return f.counts[kind], nil
}

func (f *fakeQuery) TopSamples(_ context.Context, since int64, _ int) ([]*models.SampleActivity, error) {
	f.since = since
	return []*models.SampleActivity{{Sample: models.Sample{SHA256: "abc", Name: "mirai.arm7"}, Count: 3}}, nil
}

func (f *fakeQuery) SearchSamples(_ context.Context, q string, _ int) ([]*models.Sample, error) {
	f.searched = append(f.searched, "samples:"+q)
	return []*models.Sample{{SHA256: "abc", Name: "mirai.arm7"}}, nil
}

func (f *fakeQuery) SearchURLs(_ context.Context, q string, _ int) ([]*models.URLSummary, error) {
	f.searched = append(f.searched, "urls:"+q)
	return []*models.URLSummary{}, nil
}

type fakeReference struct {
	services.ReferenceService
}

func (fakeReference) LookupIP(_ context.Context, ip string) (*models.IPRange, error) {
	if ip != "192.0.2.7" {
		return nil, apperrors.ErrNotFound
	}
	return &models.IPRange{CIDR: "192.0.2.0/24", Country: "NL"}, nil
}

func newTestApp(q *fakeQuery) (*app, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &app{logger: zap.NewNop(), query: q, reference: fakeReference{}, out: out}, out
}

func TestStatsCommand(t *testing.T) {
	q := &fakeQuery{counts: map[models.Kind]int64{models.KindConnection: 12, models.KindSample: 1}}
	a, out := newTestApp(q)

	require.NoError(t, a.stats(context.Background(), []string{"6"}))

	var report statsReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, int64(12), report.Counts[models.KindConnection])
	assert.Equal(t, int64(0), report.Counts[models.KindUser])
	assert.Len(t, report.Counts, len(statsKinds))
	require.Len(t, report.Top, 1)
	assert.Equal(t, "abc", report.Top[0].Sample.SHA256)
	assert.Equal(t, report.Since, q.since)
}

func TestStatsCommand_RejectsBadHours(t *testing.T) {
	a, _ := newTestApp(&fakeQuery{})
	assert.Error(t, a.stats(context.Background(), []string{"-1"}))
	assert.Error(t, a.stats(context.Background(), []string{"soon"}))
	assert.Error(t, a.stats(context.Background(), []string{"1", "2"}))
}

func TestSearchCommand(t *testing.T) {
	q := &fakeQuery{}
	a, out := newTestApp(q)

	require.NoError(t, a.search(context.Background(), []string{"mirai"}))
	assert.Equal(t, []string{"samples:mirai", "urls:mirai"}, q.searched)

	var got struct {
		Samples []models.Sample     `json:"samples"`
		URLs    []models.URLSummary `json:"urls"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got.Samples, 1)
	assert.Equal(t, "mirai.arm7", got.Samples[0].Name)
	assert.NotNil(t, got.URLs, "empty results encode as []")

	assert.Error(t, a.search(context.Background(), nil))
}

func TestLookupIPCommand(t *testing.T) {
	a, out := newTestApp(&fakeQuery{})

	require.NoError(t, a.lookupIP(context.Background(), []string{"192.0.2.7"}))
	assert.Contains(t, out.String(), `"cidr": "192.0.2.0/24"`)

	err := a.lookupIP(context.Background(), []string{"198.51.100.1"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
