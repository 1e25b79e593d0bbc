package crawl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/domain"
	"github.com/MikeSquared-Agency/sitechat/internal/firecrawl"
	"github.com/MikeSquared-Agency/sitechat/internal/metrics"
)

type fakeAPI struct {
	startCalls int
	startReq   firecrawl.CrawlRequest
	startID    string
	startErr   error

	statusCalls int
	statuses    []*firecrawl.StatusResponse
	statusErr   error
}

func (f *fakeAPI) StartCrawl(_ context.Context, _ string, req firecrawl.CrawlRequest) (string, error) {
	f.startCalls++
	f.startReq = req
	return f.startID, f.startErr
}

func (f *fakeAPI) CrawlStatus(_ context.Context, _, _ string) (*firecrawl.StatusResponse, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	sr := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return sr, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func keyed() config.Options {
	o := config.DefaultOptions()
	o.CrawlCredential = "fc-key"
	return o
}

func TestSubmit_BuildsRequestFromOptions(t *testing.T) {
	api := &fakeAPI{startID: "job-1"}
	c := NewClient(api, nil, discardLogger())
	opts := keyed()
	opts.MaxDepth = 2
	opts.Limit = 10
	no := false
	opts.AllowBackwardLinks = &no

	st, err := c.Submit(context.Background(), "https://a.example", opts)

	require.NoError(t, err)
	assert.Equal(t, State{ID: "job-1", Status: StatusSubmitted}, st)
	assert.Equal(t, "https://a.example", api.startReq.URL)
	assert.Equal(t, []string{"markdown"}, api.startReq.ScrapeOptions.Formats)
	assert.Equal(t, config.DefaultWaitForMs, api.startReq.ScrapeOptions.WaitFor)
	assert.Equal(t, config.DefaultTimeoutMs, api.startReq.ScrapeOptions.Timeout)
	assert.Equal(t, 2, api.startReq.MaxDepth)
	assert.Equal(t, 10, api.startReq.Limit)
	assert.False(t, api.startReq.AllowBackwardLinks)
}

func TestSubmit_MissingCredential(t *testing.T) {
	api := &fakeAPI{startID: "job-1"}
	c := NewClient(api, nil, discardLogger())

	_, err := c.Submit(context.Background(), "https://a.example", config.DefaultOptions())

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.KindMissingPrerequisite, de.Kind)
	assert.Equal(t, "crawlCredential", de.Field)
	assert.Equal(t, 0, api.startCalls)
}

func TestSubmit_RejectedCarriesUpstreamMessage(t *testing.T) {
	api := &fakeAPI{startErr: &firecrawl.APIError{StatusCode: 401, Message: "Unauthorized: Invalid token"}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewClient(api, m, discardLogger())

	_, err := c.Submit(context.Background(), "https://a.example", keyed())

	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.Equal(t, "Unauthorized: Invalid token", err.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CrawlsSubmitted.WithLabelValues("error")))
}

func TestSubmit_RejectedWithoutMessage(t *testing.T) {
	api := &fakeAPI{startErr: &firecrawl.APIError{StatusCode: 200}}
	c := NewClient(api, nil, discardLogger())

	_, err := c.Submit(context.Background(), "https://a.example", keyed())

	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.Equal(t, msgSubmitFailed, err.Error())
}

func TestPoll_ScrapingThenCompleted(t *testing.T) {
	api := &fakeAPI{statuses: []*firecrawl.StatusResponse{
		{Status: "scraping", Completed: 2, Total: 10},
		{Status: "scraping", Completed: 5, Total: 10},
		{Status: "completed", Completed: 10, Total: 10, Data: []firecrawl.PageData{
			{Markdown: "# Home", Metadata: firecrawl.PageMetadata{Title: "Home", SourceURL: "https://a.example/"}},
			{Markdown: "", Metadata: firecrawl.PageMetadata{Title: "Blank"}},
		}},
	}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewClient(api, m, discardLogger())
	ctx := context.Background()

	job := State{ID: "job-1", Status: StatusSubmitted}
	var progress []float64
	for !job.Terminal() {
		obs, err := c.Poll(ctx, "job-1", keyed())
		require.NoError(t, err)
		job, err = job.Advance(obs)
		require.NoError(t, err)
		progress = append(progress, job.Progress())
	}

	assert.Equal(t, []float64{0.2, 0.5, 1}, progress)
	assert.Equal(t, StatusCompleted, job.Status)
	require.Len(t, job.Pages, 2)
	assert.Equal(t, domain.Page{Title: "Home", SourceURL: "https://a.example/", Markdown: "# Home"}, job.Pages[0])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CrawlPolls.WithLabelValues("scraping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CrawlPolls.WithLabelValues("completed")))
}

func TestPoll_UnknownStatusFails(t *testing.T) {
	api := &fakeAPI{statuses: []*firecrawl.StatusResponse{{Status: "failed", Error: "blocked"}}}
	c := NewClient(api, nil, discardLogger())

	st, err := c.Poll(context.Background(), "job-1", keyed())

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st.Status)
	assert.True(t, st.Terminal())
	assert.Equal(t, domain.KindUnknownStatus, domain.KindOf(st.Err))
	assert.Equal(t, msgUnknown, st.Err.Error())
}

func TestPoll_TransportErrorLeavesStateAlone(t *testing.T) {
	api := &fakeAPI{statusErr: errors.New("connection refused")}
	c := NewClient(api, nil, discardLogger())
	job := State{ID: "job-1", Status: StatusScraping, Completed: 3, Total: 10}

	obs, err := c.Poll(context.Background(), "job-1", keyed())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, State{}, obs)
	assert.Equal(t, StatusScraping, job.Status)
}

func TestPoll_MissingCredential(t *testing.T) {
	api := &fakeAPI{}
	c := NewClient(api, nil, discardLogger())

	_, err := c.Poll(context.Background(), "job-1", config.DefaultOptions())

	assert.ErrorIs(t, err, domain.ErrMissingPrerequisite)
	assert.Equal(t, 0, api.statusCalls)
}

func TestSiteOf(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://docs.example.com/guide?x=1", "docs.example.com", false},
		{"http://example.com:8080/", "example.com", false},
		{"ftp://example.com", "", true},
		{"not a url", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SiteOf(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
