package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/bfhtw/inference"
)

var _ inference.Provider = (*Provider)(nil)

func TestVectorIsDeterministicUnit(t *testing.T) {
	a := Vector("hepatoblastoma", 16)
	b := Vector("hepatoblastoma", 16)
	c := Vector("sarcoma", 16)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestEmbedder(t *testing.T) {
	e := NewEmbedder(0)
	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], DefaultDimensions)

	v, err := e.EmbedText(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, vecs[0], v)
	assert.Equal(t, 2, e.Calls())
}

func TestEntityExtractor(t *testing.T) {
	ents, err := NewEntityExtractor().ExtractEntities(context.Background(),
		"Liver biopsy confirmed hepatoblastoma; cisplatin 80 mg/m2 was given before resection. Cisplatin again.")
	require.NoError(t, err)

	assert.Equal(t, []string{"cisplatin"}, ents.Medications)
	assert.Equal(t, []string{"hepatoblastoma"}, ents.Diseases)
	assert.Equal(t, []string{"liver"}, ents.BiologicalStructures)
	assert.Equal(t, []string{"biopsy"}, ents.DiagnosticProcedures)
	assert.Equal(t, []string{"resection"}, ents.TherapeuticProcedures)
	assert.Equal(t, []string{"80 mg/m2"}, ents.Dosages)
	assert.Equal(t, 6, ents.Count())
}
