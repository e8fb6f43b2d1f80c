package source

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/internal/httpclient"
	"github.com/teranos/bfhtw/logger"
)

const (
	// SourcePMC is the source_db value written for PubMed Central items
	SourcePMC = "pubmed_central"

	// esummaryChunk is the number of ids sent per esummary call
	esummaryChunk = 200

	DefaultMaxArticles     = 1000
	DefaultSearchTermsFile = "search_terms.json"
)

// PMCOptions configures a PMCSource
type PMCOptions struct {
	BaseURL         string // E-utilities root, e.g. https://eutils.ncbi.nlm.nih.gov/entrez/eutils
	APIKey          string
	Tool            string
	Email           string
	SearchTermsFile string
	MaxArticles     int
	Client          *httpclient.Client
	Logger          *zap.SugaredLogger
	Now             func() time.Time
}

// PMCSource searches PubMed Central through E-utilities: esearch resolves
// the OR-joined search terms to ids, esummary turns ids into metadata.
type PMCSource struct {
	opts   PMCOptions
	terms  []string
	logger *zap.SugaredLogger
}

// NewPMCSource fills defaults for zero options
func NewPMCSource(opts PMCOptions) *PMCSource {
	if opts.SearchTermsFile == "" {
		opts.SearchTermsFile = DefaultSearchTermsFile
	}
	if opts.MaxArticles <= 0 {
		opts.MaxArticles = DefaultMaxArticles
	}
	if opts.Client == nil {
		opts.Client = httpclient.New(httpclient.Options{Logger: opts.Logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &PMCSource{opts: opts, logger: log}
}

// Identifier implements Source
func (s *PMCSource) Identifier() string { return SourcePMC }

// ValidateConnection loads the search terms and pings einfo
func (s *PMCSource) ValidateConnection(ctx context.Context) error {
	terms, err := LoadSearchTerms(s.opts.SearchTermsFile)
	if err != nil {
		return errors.WithHint(errors.MarkConnection(err),
			"search terms must be a non-empty JSON array of strings")
	}
	s.terms = terms

	if err := s.opts.Client.Ping(ctx, s.endpoint("einfo"), s.params(url.Values{"db": {"pmc"}})); err != nil {
		s.logger.Errorw("PMC connection validation failed", logger.FieldError, err.Error())
		return errors.WrapConnection(err, "pmc einfo")
	}
	return nil
}

// FetchMetadata runs the search and returns at most MaxArticles items
func (s *PMCSource) FetchMetadata(ctx context.Context) ([]Item, error) {
	if s.terms == nil {
		if err := s.ValidateConnection(ctx); err != nil {
			return nil, err
		}
	}

	ids, err := s.search(ctx, BuildQuery(s.terms))
	if err != nil {
		return nil, err
	}
	if len(ids) > s.opts.MaxArticles {
		s.logger.Infow("Limiting PMC results", "found", len(ids), "limit", s.opts.MaxArticles)
		ids = ids[:s.opts.MaxArticles]
	}

	discovered := s.opts.Now().UTC().Format(time.RFC3339)
	items := make([]Item, 0, len(ids))
	for start := 0; start < len(ids); start += esummaryChunk {
		end := min(start+esummaryChunk, len(ids))
		summaries, err := s.summarize(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, sum := range summaries {
			item := sum.item()
			item["discovered_at"] = discovered
			items = append(items, item)
		}
	}

	s.logger.Infow("Retrieved PMC metadata", logger.FieldCount, len(items))
	return items, nil
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (s *PMCSource) search(ctx context.Context, query string) ([]string, error) {
	var resp esearchResponse
	params := url.Values{
		"db":     {"pmc"},
		"term":   {query},
		"retmax": {strconv.Itoa(s.opts.MaxArticles)},
	}
	if err := s.opts.Client.GetJSON(ctx, s.endpoint("esearch"), s.params(params), &resp); err != nil {
		return nil, errors.Wrap(err, "pmc esearch")
	}
	s.logger.Debugw("PMC search", "query", query, "count", resp.Result.Count, "ids", len(resp.Result.IDList))
	return resp.Result.IDList, nil
}

type articleID struct {
	IDType string `json:"idtype"`
	Value  string `json:"value"`
}

type author struct {
	Name string `json:"name"`
}

type summary struct {
	UID             string      `json:"uid"`
	Title           string      `json:"title"`
	FullJournalName string      `json:"fulljournalname"`
	Source          string      `json:"source"`
	PubDate         string      `json:"pubdate"`
	EPubDate        string      `json:"epubdate"`
	Authors         []author    `json:"authors"`
	ArticleIDs      []articleID `json:"articleids"`
}

func (s summary) id(kind string) string {
	for _, a := range s.ArticleIDs {
		if strings.EqualFold(a.IDType, kind) {
			return a.Value
		}
	}
	return ""
}

func (s summary) item() Item {
	pmcid := s.id("pmcid")
	if pmcid == "" {
		pmcid = "PMC" + s.UID
	}
	// esummary reports pmcid values like "PMC123456" or "pmc-id: PMC123456;"
	if i := strings.Index(pmcid, "PMC"); i > 0 {
		pmcid = strings.TrimRight(pmcid[i:], "; ")
	}
	journal := s.FullJournalName
	if journal == "" {
		journal = s.Source
	}
	date := s.PubDate
	if date == "" {
		date = s.EPubDate
	}
	authors := make([]string, 0, len(s.Authors))
	for _, a := range s.Authors {
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}

	item := Item{
		"pmcid":                pmcid,
		"accession_id":         pmcid,
		"title":                s.Title,
		"journal":              journal,
		"publication_date":     date,
		"authors":              authors,
		"source_db":            SourcePMC,
		"full_text_downloaded": false,
	}
	if pmid := s.id("pmid"); pmid != "" && pmid != "0" {
		item["pmid"] = pmid
	}
	if doi := s.id("doi"); doi != "" {
		item["doi"] = doi
	}
	return item
}

func (s *PMCSource) summarize(ctx context.Context, ids []string) ([]summary, error) {
	var raw struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	params := url.Values{"db": {"pmc"}, "id": {strings.Join(ids, ",")}}
	if err := s.opts.Client.GetJSON(ctx, s.endpoint("esummary"), s.params(params), &raw); err != nil {
		return nil, errors.Wrap(err, "pmc esummary")
	}

	var order []string
	if uids, ok := raw.Result["uids"]; ok {
		if err := json.Unmarshal(uids, &order); err != nil {
			return nil, errors.WrapProcessing(err, "pmc esummary uids")
		}
	} else {
		order = ids
	}

	out := make([]summary, 0, len(order))
	for _, uid := range order {
		msg, ok := raw.Result[uid]
		if !ok {
			continue
		}
		var sum summary
		if err := json.Unmarshal(msg, &sum); err != nil {
			s.logger.Warnw("Skipping undecodable PMC summary", "uid", uid, logger.FieldError, err.Error())
			continue
		}
		if sum.UID == "" {
			sum.UID = uid
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *PMCSource) endpoint(util string) string {
	return s.opts.BaseURL + "/" + util + ".fcgi"
}

// params adds the retmode and NCBI identification parameters
func (s *PMCSource) params(v url.Values) url.Values {
	if v.Get("retmode") == "" {
		v.Set("retmode", "json")
	}
	if s.opts.Tool != "" {
		v.Set("tool", s.opts.Tool)
	}
	if s.opts.Email != "" {
		v.Set("email", s.opts.Email)
	}
	if s.opts.APIKey != "" {
		v.Set("api_key", s.opts.APIKey)
	}
	return v
}

// LoadSearchTerms reads a non-empty JSON array of search terms
func LoadSearchTerms(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "search terms file %s", path)
	}
	var terms []string
	if err := json.Unmarshal(data, &terms); err != nil {
		return nil, errors.Wrapf(err, "parse search terms %s", path)
	}
	out := terms[:0]
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, errors.Newf("search terms file %s has no terms", path)
	}
	return out, nil
}

// BuildQuery ORs terms together, quoting multi-word terms
func BuildQuery(terms []string) string {
	if len(terms) == 1 {
		return terms[0]
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		if strings.Contains(t, " ") {
			t = `"` + t + `"`
		}
		quoted[i] = t
	}
	return "(" + strings.Join(quoted, " OR ") + ")"
}
