package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName_Empty(t *testing.T) {
	assert.Equal(t, "", NormalizeName(""))
	assert.Equal(t, "", NormalizeName("   "))
}

func TestNormalizeName_Uppercase(t *testing.T) {
	assert.Equal(t, "SOUTH KOREA", NormalizeName("South Korea"))
}

func TestNormalizeName_Diacritics(t *testing.T) {
	assert.Equal(t, "COTE DIVOIRE", NormalizeName("Côte d'Ivoire"))
	assert.Equal(t, "CURACAO", NormalizeName("Curaçao"))
	assert.Equal(t, "SAO TOME AND PRINCIPE", NormalizeName("São Tomé and Príncipe"))
}

func TestNormalizeName_Punctuation(t *testing.T) {
	assert.Equal(t, "TRINIDAD AND TOBAGO", NormalizeName("Trinidad & Tobago"))
	assert.Equal(t, "GUINEA BISSAU", NormalizeName("Guinea-Bissau"))
	assert.Equal(t, "MYANMAR BURMA", NormalizeName("Myanmar (Burma)"))
	assert.Equal(t, "COCOS KEELING ISLANDS", NormalizeName("Cocos (Keeling) Islands"))
}

func TestNormalizeName_LeadingArticle(t *testing.T) {
	assert.Equal(t, "GAMBIA", NormalizeName("The Gambia"))
	assert.Equal(t, "BAHAMAS", NormalizeName("the Bahamas"))
	// A bare article is left alone.
	assert.Equal(t, "THE", NormalizeName("The"))
}

func TestNormalizeName_CollapseSpaces(t *testing.T) {
	assert.Equal(t, "NEW ZEALAND", NormalizeName("  New   Zealand  "))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "DEU", NormalizeCode(" deu "))
	assert.True(t, isISO3("DEU"))
	assert.False(t, isISO3("DE"))
	assert.False(t, isISO3("D3U"))
}
