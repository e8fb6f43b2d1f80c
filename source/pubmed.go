package source

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/internal/httpclient"
)

// efetchChunk is the E-utilities limit of ids per efetch call
const efetchChunk = 200

// Abstract is the title and abstract text of one PubMed record
type Abstract struct {
	PMID     string
	Title    string
	Abstract string
}

// PubMedAbstractFetcher resolves PMIDs to abstracts through efetch
type PubMedAbstractFetcher struct {
	baseURL string
	params  url.Values
	client  *httpclient.Client
}

// NewPubMedAbstractFetcher shares the PMC source's E-utilities settings
func NewPubMedAbstractFetcher(opts PMCOptions) *PubMedAbstractFetcher {
	src := NewPMCSource(opts)
	return &PubMedAbstractFetcher{
		baseURL: src.opts.BaseURL,
		params:  src.params(url.Values{"db": {"pubmed"}, "retmode": {"xml"}}),
		client:  src.opts.Client,
	}
}

// FetchText implements TextFetcher: the abstract of pmid, or its title
// when the record has no abstract.
func (f *PubMedAbstractFetcher) FetchText(ctx context.Context, pmid string) (string, error) {
	abstracts, err := f.FetchAbstracts(ctx, []string{pmid})
	if err != nil {
		return "", err
	}
	for _, a := range abstracts {
		if a.PMID != pmid {
			continue
		}
		if a.Abstract != "" {
			return a.Abstract, nil
		}
		if a.Title != "" {
			return a.Title, nil
		}
	}
	return "", errors.NewNotFoundError("no abstract for PMID %s", pmid)
}

// FetchAbstracts fetches abstracts in chunks of 200 ids
func (f *PubMedAbstractFetcher) FetchAbstracts(ctx context.Context, pmids []string) ([]Abstract, error) {
	var out []Abstract
	for start := 0; start < len(pmids); start += efetchChunk {
		end := min(start+efetchChunk, len(pmids))
		params := url.Values{}
		for k, v := range f.params {
			params[k] = v
		}
		params.Set("id", strings.Join(pmids[start:end], ","))

		body, err := f.client.Get(ctx, f.baseURL+"/efetch.fcgi", params)
		if err != nil {
			return nil, errors.Wrap(err, "pubmed efetch")
		}
		parsed, err := parseArticleSet(body)
		if err != nil {
			return nil, errors.WrapProcessing(err, "parse efetch response")
		}
		out = append(out, parsed...)
	}
	return out, nil
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type pubmedArticleSet struct {
	Articles []struct {
		PMID    string         `xml:"MedlineCitation>PMID"`
		Title   string         `xml:"MedlineCitation>Article>ArticleTitle"`
		Section []abstractText `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	} `xml:"PubmedArticle"`
}

// parseArticleSet joins labelled abstract sections as "LABEL: text" paragraphs
func parseArticleSet(body []byte) ([]Abstract, error) {
	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, err
	}
	out := make([]Abstract, 0, len(set.Articles))
	for _, a := range set.Articles {
		parts := make([]string, 0, len(a.Section))
		for _, sec := range a.Section {
			text := strings.TrimSpace(sec.Text)
			if text == "" {
				continue
			}
			if sec.Label != "" {
				text = sec.Label + ": " + text
			}
			parts = append(parts, text)
		}
		out = append(out, Abstract{
			PMID:     strings.TrimSpace(a.PMID),
			Title:    strings.TrimSpace(a.Title),
			Abstract: strings.Join(parts, "\n\n"),
		})
	}
	return out, nil
}
