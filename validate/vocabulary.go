package validate

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/teranos/bfhtw/errors"
)

var defaultTerms = []string{
	"patient", "patients", "treatment", "therapy", "clinical", "medical",
	"disease", "diagnosis", "symptoms", "medication", "drug", "cancer",
	"tumor", "gene", "protein", "cell", "tissue", "surgery", "surgical",
	"hepatoblastoma", "liver", "pediatric", "oncology", "chemotherapy",
	"cisplatin", "doxorubicin", "metastasis", "prognosis", "biopsy",
	"malignant", "benign", "carcinoma", "sarcoma", "lymphoma", "leukemia",
	"radiotherapy", "immunotherapy", "pathology", "histology", "cytology",
	"pharmaceutical", "pharmacology", "therapeutic", "diagnostic",
	"anesthesia", "antibiotic", "antiviral", "vaccine", "immunization",
	"syndrome", "disorder", "condition", "chronic", "acute", "inflammatory",
	"infection", "viral", "bacterial", "fungal", "parasitic",
	"cardiovascular", "pulmonary", "neurological", "gastrointestinal",
	"endocrine", "metabolic", "genetic", "hereditary", "congenital",
	"molecular", "cellular", "biochemical", "physiological", "anatomical",
}

// Suffix families that mark a word as biomedical even when it is not in the
// term list: hepatoma, fibrosis, hepatitis, neuropathy, ...
var termPattern = regexp.MustCompile(`^[a-z]{2,}(oma|omas|osis|itis|pathy|therapy|therapies|ectomy|emia)$`)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Vocabulary is a read-only set of biomedical terms. Build it once and
// share it between validators.
type Vocabulary struct {
	terms    map[string]struct{}
	patterns bool
}

// NewVocabulary builds a vocabulary from terms, lowercased
func NewVocabulary(terms ...string) *Vocabulary {
	v := &Vocabulary{terms: make(map[string]struct{}, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			v.terms[t] = struct{}{}
		}
	}
	return v
}

// DefaultVocabulary returns the built-in term set plus suffix matching
func DefaultVocabulary() *Vocabulary {
	v := NewVocabulary(defaultTerms...)
	v.patterns = true
	return v
}

// LoadVocabulary reads a JSON array of terms. An empty path yields the default vocabulary.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.MarkConfiguration(errors.Wrapf(err, "read vocabulary %s", path))
	}
	var terms []string
	if err := json.Unmarshal(data, &terms); err != nil {
		return nil, errors.MarkConfiguration(errors.Wrapf(err, "parse vocabulary %s", path))
	}
	if len(terms) == 0 {
		return nil, errors.NewConfigurationError("vocabulary %s is empty", path)
	}
	return NewVocabulary(terms...), nil
}

// Len returns the number of listed terms
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Contains reports whether word (any case) is a biomedical term
func (v *Vocabulary) Contains(word string) bool {
	if v == nil {
		return false
	}
	word = strings.ToLower(word)
	if _, ok := v.terms[word]; ok {
		return true
	}
	return v.patterns && termPattern.MatchString(word)
}

// Score is the share of words in text that are biomedical terms, in [0, 1]
func (v *Vocabulary) Score(text string) float64 {
	if v.Len() == 0 && (v == nil || !v.patterns) {
		return 0
	}
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if v.Contains(w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
