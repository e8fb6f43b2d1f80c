package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/internal/httpclient"
)

const esummaryBody = `{
  "result": {
    "uids": ["111", "222"],
    "111": {
      "uid": "111",
      "title": "Cisplatin in hepatoblastoma",
      "fulljournalname": "Pediatric Oncology",
      "pubdate": "2021 Oct",
      "authors": [{"name": "Doe J"}, {"name": "Smith A"}],
      "articleids": [
        {"idtype": "pmid", "value": "3456"},
        {"idtype": "pmcid", "value": "pmc-id: PMC111;"},
        {"idtype": "doi", "value": "10.1/abc"}
      ]
    },
    "222": {
      "uid": "222",
      "title": "Liver transplant outcomes",
      "source": "Liver Int",
      "epubdate": "2022 Jan 3",
      "authors": [],
      "articleids": [{"idtype": "pmid", "value": "0"}]
    }
  }
}`

func fakeEutils(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		q := r.URL.Query()
		assert.Equal(t, "bfhtw", q.Get("tool"))
		switch r.URL.Path {
		case "/einfo.fcgi":
			fmt.Fprint(w, `{"einforesult": {}}`)
		case "/esearch.fcgi":
			assert.Equal(t, "pmc", q.Get("db"))
			assert.Equal(t, `(hepatoblastoma OR "liver cancer")`, q.Get("term"))
			fmt.Fprint(w, `{"esearchresult": {"count": "3", "idlist": ["111", "222", "333"]}}`)
		case "/esummary.fcgi":
			assert.Equal(t, "111,222", q.Get("id"))
			fmt.Fprint(w, esummaryBody)
		case "/efetch.fcgi":
			assert.Equal(t, "pubmed", q.Get("db"))
			assert.Equal(t, "xml", q.Get("retmode"))
			fmt.Fprint(w, `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>3456</PMID>
      <Article>
        <ArticleTitle>Cisplatin in hepatoblastoma</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Hepatoblastoma is rare.</AbstractText>
          <AbstractText Label="RESULTS">Cisplatin improved survival.</AbstractText>
        </Abstract>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>7890</PMID>
      <Article><ArticleTitle>Title only</ArticleTitle></Article>
    </MedlineCitation>
  </PubmedArticle>
</PubmedArticleSet>`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func testOptions(t *testing.T, baseURL string) PMCOptions {
	return PMCOptions{
		BaseURL:         baseURL,
		Tool:            "bfhtw",
		SearchTermsFile: writeFile(t, "terms.json", `["hepatoblastoma", "liver cancer", " "]`),
		MaxArticles:     2,
		Client:          httpclient.New(httpclient.Options{RequestsPerSecond: 1000, BaseBackoff: time.Millisecond, AllowPrivateHosts: true}),
		Now:             func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestPMCSourceFetch(t *testing.T) {
	srv := fakeEutils(t, nil)
	defer srv.Close()

	src := NewPMCSource(testOptions(t, srv.URL))
	require.NoError(t, src.ValidateConnection(context.Background()))

	items, err := src.FetchMetadata(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2, "max_articles caps the id list")

	first := items[0]
	assert.Equal(t, "PMC111", first["pmcid"])
	assert.Equal(t, "PMC111", first["accession_id"])
	assert.Equal(t, "3456", first["pmid"])
	assert.Equal(t, "10.1/abc", first["doi"])
	assert.Equal(t, "Pediatric Oncology", first["journal"])
	assert.Equal(t, []string{"Doe J", "Smith A"}, first["authors"])
	assert.Equal(t, SourcePMC, first["source_db"])
	assert.Equal(t, false, first["full_text_downloaded"])
	assert.Equal(t, "2025-06-01T00:00:00Z", first["discovered_at"])

	second := items[1]
	assert.Equal(t, "PMC222", second["pmcid"])
	assert.Equal(t, "Liver Int", second["journal"])
	assert.Equal(t, "2022 Jan 3", second["publication_date"])
	assert.NotContains(t, second, "pmid", "pmid 0 means unknown")
}

func TestPMCSourceConnectionFailures(t *testing.T) {
	opts := testOptions(t, "http://127.0.0.1:1")
	opts.Client = httpclient.New(httpclient.Options{RequestsPerSecond: 1000, MaxRetries: -1, Timeout: time.Second, AllowPrivateHosts: true})
	err := NewPMCSource(opts).ValidateConnection(context.Background())
	assert.True(t, errors.IsConnectionError(err))

	opts.SearchTermsFile = writeFile(t, "empty.json", `[]`)
	err = NewPMCSource(opts).ValidateConnection(context.Background())
	assert.True(t, errors.IsConnectionError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))

	_, err = NewPMCSource(opts).FetchMetadata(context.Background())
	assert.True(t, errors.IsConnectionError(err), "fetch validates lazily")
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "liver cancer", BuildQuery([]string{"liver cancer"}))
	assert.Equal(t, `(a OR "b c")`, BuildQuery([]string{"a", "b c"}))
}

func TestPubMedAbstractFetcher(t *testing.T) {
	var hits int32
	srv := fakeEutils(t, &hits)
	defer srv.Close()

	f := NewPubMedAbstractFetcher(testOptions(t, srv.URL))

	text, err := f.FetchText(context.Background(), "3456")
	require.NoError(t, err)
	assert.Equal(t, "BACKGROUND: Hepatoblastoma is rare.\n\nRESULTS: Cisplatin improved survival.", text)

	text, err = f.FetchText(context.Background(), "7890")
	require.NoError(t, err)
	assert.Equal(t, "Title only", text)

	_, err = f.FetchText(context.Background(), "0000")
	assert.True(t, errors.IsNotFoundError(err))

	ids := make([]string, 450)
	for i := range ids {
		ids[i] = "3456"
	}
	before := atomic.LoadInt32(&hits)
	_, err = f.FetchAbstracts(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits)-before, "450 ids need three efetch calls")
}

func TestParseArticleSetRejectsGarbage(t *testing.T) {
	_, err := parseArticleSet([]byte("<PubmedArticleSet><unclosed>"))
	assert.Error(t, err)
}
