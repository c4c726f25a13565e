package extractor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightdelivered/statement-viewer/internal/models"
	"github.com/insightdelivered/statement-viewer/internal/pdftest"
)

func TestInspectTextStatement(t *testing.T) {
	info, err := Inspect(pdftest.Statement())
	require.NoError(t, err)
	assert.Equal(t, 2, info.Pages)
	assert.True(t, info.TextLayer)
	assert.Equal(t, models.MethodTextBased, info.ExpectedMethod())
	assert.NotEmpty(t, info.Sample)
}

func TestInspectImageOnlyStatement(t *testing.T) {
	data := pdftest.Build([][]string{{}})

	info, err := Inspect(data)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Pages)
	assert.False(t, info.TextLayer)
	assert.Equal(t, models.MethodOCR, info.ExpectedMethod())
}

func TestInspectGarbage(t *testing.T) {
	_, err := Inspect([]byte("definitely not a pdf"))
	assert.Error(t, err)

	_, err = Inspect(nil)
	assert.Error(t, err)
}

func TestIsReadableText(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
		want  bool
	}{
		{"statement", []string{"Statement Balance $512.00\nPayment Due Date 03/01/2025\nMinimum Payment $25.00"}, true},
		{"too short", []string{"Balance $1"}, false},
		{"no statement words", []string{"Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor"}, false},
		{"binary garbage", []string{strings.Repeat("éþÆœ ", 30) + "balance"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isReadableText(tt.pages))
		})
	}
}

func TestTextQuality(t *testing.T) {
	assert.Equal(t, 0.0, textQuality(nil))
	assert.Equal(t, 1.0, textQuality([]string{"New Balance: $1,234.56"}))
	assert.Less(t, textQuality([]string{"éééa"}), 0.5)
}

func TestFirstLineKeepsWholeRunes(t *testing.T) {
	line := firstLine([]string{"\n  \n" + strings.Repeat("é", 100) + "\nsecond"})
	assert.True(t, utf8.ValidString(line))
	assert.Equal(t, maxSampleRunes, utf8.RuneCountInString(line))

	assert.Equal(t, "Balance due", firstLine([]string{"", "  Balance due \nmore"}))
}
