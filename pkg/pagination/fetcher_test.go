package pagination

import (
	"context"
	"testing"

	"github.com/Sternrassler/medcat-trainer-client/internal/testutil"
	"github.com/Sternrassler/medcat-trainer-client/pkg/client"
	"github.com/Sternrassler/medcat-trainer-client/pkg/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mock *testutil.MockTrainer) *client.Client {
	t.Helper()
	c, err := client.New(client.DefaultConfig(mock.URL()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHTTPFetcher_DocumentList(t *testing.T) {
	mock := testutil.NewMockTrainer()
	defer mock.Close()
	mock.InstallDocuments(testutil.NumberedDocuments(4, 25)...)

	c := newTestClient(t, mock)
	w := NewWalker[trainer.Document](NewHTTPFetcher[trainer.Document](c), "documents")

	res, err := w.Collect(context.Background(), trainer.DocumentsURL(4), 10)
	require.NoError(t, err)

	assert.Len(t, res.Items, 25)
	assert.Equal(t, 3, res.Pages)
	assert.True(t, res.Exhausted)
	assert.Empty(t, res.Next)
	assert.Equal(t, 3, mock.PathCount(trainer.PathDocuments))
	for i, doc := range res.Items {
		assert.Equal(t, i+1, doc.ID)
	}
	assert.Equal(t, []string{
		"GET /api/documents/?dataset=4",
		"GET /api/documents/?dataset=4&page=2",
		"GET /api/documents/?dataset=4&page=3",
	}, mock.Requests())
}

func TestHTTPFetcher_SinglePage(t *testing.T) {
	mock := testutil.NewMockTrainer()
	defer mock.Close()
	mock.InstallDocuments(testutil.NumberedDocuments(1, 3)...)

	f := NewHTTPFetcher[trainer.Document](newTestClient(t, mock))
	page, err := f.FetchPage(context.Background(), trainer.DocumentsURL(1))
	require.NoError(t, err)

	assert.Len(t, page.Items, 3)
	assert.Equal(t, 3, page.Total)
	assert.Empty(t, page.Next)
}

func TestHTTPFetcher_NetworkError(t *testing.T) {
	mock := testutil.NewMockTrainer()
	defer mock.Close()
	mock.SetResponse(trainer.PathDocuments, testutil.NewServerErrorResponse())

	f := NewHTTPFetcher[trainer.Document](newTestClient(t, mock))
	_, err := f.FetchPage(context.Background(), trainer.DocumentsURL(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrNetwork)
	assert.Equal(t, 1, mock.GetRequestCount(), "a failed page is not retried")
}

func TestHTTPFetcher_PartialDrain(t *testing.T) {
	mock := testutil.NewMockTrainer()
	defer mock.Close()
	mock.InstallDocuments(testutil.NumberedDocuments(1, 25)...)

	c := newTestClient(t, mock)
	w := NewWalker[trainer.Document](NewHTTPFetcher[trainer.Document](c), "documents")

	walk := w.Start(trainer.DocumentsURL(1), Unbounded)
	_, ok := walk.Next(context.Background())
	require.True(t, ok)

	mock.SetResponse(trainer.PathDocuments, testutil.NewServerErrorResponse())
	_, ok = walk.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, walk.Err(), client.ErrNetwork)
	assert.False(t, walk.Exhausted())
	assert.Equal(t, 1, walk.Pages())
}

func TestEnvelope_Page(t *testing.T) {
	next := "http://host/api/x/?page=2"
	p := Envelope[int]{Count: 3, Next: &next, Results: []int{1, 2}}.Page()
	assert.Equal(t, Page[int]{Items: []int{1, 2}, Next: next, Total: 3}, p)

	empty := Envelope[int]{}.Page()
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Next)
}
