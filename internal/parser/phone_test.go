package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFromText(t *testing.T) {
	parser := NewPhoneParser()

	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "WhatsApp short link",
			text:     "Kontakt: wa.me/5351000370 oder ruf an",
			expected: []string{"+5351000370"},
		},
		{
			name:     "WhatsApp API link",
			text:     "Escríbeme https://api.whatsapp.com/send?phone=5354443322&text=hola",
			expected: []string{"+5354443322"},
		},
		{
			name:     "tel link",
			text:     `<a href="tel:+5352345678">llamar</a>`,
			expected: []string{"+5352345678"},
		},
		{
			name:     "international compact",
			text:     "Contacto +5356590251 a cualquier hora",
			expected: []string{"+5356590251"},
		},
		{
			name:     "international with spaces",
			text:     "Tel: +53 5123 4567",
			expected: []string{"+5351234567"},
		},
		{
			name:     "international with hyphens",
			text:     "Tel: +53-5123-4567",
			expected: []string{"+5351234567"},
		},
		{
			name:     "parenthesized country code",
			text:     "Llamar al (53) 5812 3456",
			expected: []string{"+5358123456"},
		},
		{
			name:     "bare country code",
			text:     "Movil 5351234567",
			expected: []string{"+5351234567"},
		},
		{
			name:     "country code with spaces",
			text:     "Movil 53 5123 4567",
			expected: []string{"+5351234567"},
		},
		{
			name:     "hyphenated local",
			text:     "Llama al 5123-4567",
			expected: []string{"+5351234567"},
		},
		{
			name:     "spaced local",
			text:     "Llama al 5123 4567 después de las 5",
			expected: []string{"+5351234567"},
		},
		{
			name:     "bare local",
			text:     "Móvil: 58123456.",
			expected: []string{"+5358123456"},
		},
		{
			name:     "deduplicated in page order",
			text:     "Llame al 51234567 o al +53 5123 4567 o al 52223344",
			expected: []string{"+5351234567", "+5352223344"},
		},
		{
			name:     "too many digits with hyphens",
			text:     "Tel: 5350-1224-43",
			expected: nil,
		},
		{
			name:     "tel link followed by more digit groups",
			text:     `<a href="tel:+5352345678-90">llamar</a>`,
			expected: nil,
		},
		{
			name:     "tel link with too many digits",
			text:     `<a href="tel:535234567890">llamar</a>`,
			expected: nil,
		},
		{
			name:     "tel link with hyphen groups",
			text:     `<a href="tel:5350-1224-43">llamar</a>`,
			expected: nil,
		},
		{
			name:     "tel link with hyphenated valid number",
			text:     `<a href="tel:+53-5234-5678">llamar</a>`,
			expected: []string{"+5352345678"},
		},
		{
			name:     "lowercase tel label with hyphen groups",
			text:     "tel: 5350-1224-43",
			expected: nil,
		},
		{
			name:     "embedded in longer digit run",
			text:     "Referencia 45123456789",
			expected: nil,
		},
		{
			name:     "country code with invalid first digit",
			text:     "Codigo 5312345678",
			expected: nil,
		},
		{
			name:     "seven digit landline",
			text:     "Tel 7123456",
			expected: nil,
		},
		{
			name:     "number starting with 1",
			text:     "Teléfono: 12345678",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parser.ExtractFromText(tt.text)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExtractFromTextNoFalsePositives(t *testing.T) {
	parser := NewPhoneParser()

	texts := []string{
		"",
		"Vendo nevera en buen estado, precio 150 USD negociable",
		"iPhone 13 Pro Max 256GB año 2023, batería 89%",
		"Apartamento de 3 cuartos en Plaza, 25000 USD",
		"Llamar de 9 a 5, preguntar por Maria",
		"Carro 1998 con 120000 km",
		"Fecha: 12/05/2024 10:30",
	}

	for _, text := range texts {
		assert.Empty(t, parser.ExtractFromText(text), text)
	}
}

func TestNormalize(t *testing.T) {
	valid := map[string]string{
		"+5351000370":    "+5351000370",
		"5351000370":     "+5351000370",
		"51000370":       "+5351000370",
		"0053 5100 0370": "+5351000370",
		"+53 5100-0370":  "+5351000370",
		"(53) 5100 0370": "+5351000370",
		"99887766":       "+5399887766",
	}
	for in, want := range valid {
		got, err := Normalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	invalid := []string{
		"",
		"41000370",
		"535100037",
		"+1 555 123 4567",
		"5341000370",
		"53510003701",
	}
	for _, in := range invalid {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{"+5351000370", "5356590251", "5812-3456", "0053 5999 8888"}

	for _, in := range inputs {
		once, err := Normalize(in)
		require.NoError(t, err)

		twice, err := Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
		assert.True(t, IsCanonical(once))
	}

	assert.False(t, IsCanonical("51000370"))
}

func TestExtractFromHTML(t *testing.T) {
	parser := NewPhoneParser()

	page := `<html><head><script>var id = "51234567";</script></head>
<body>
<div data-cy="adDescription">Vendo nevera. Llamar al <span>5812</span><span>3456</span></div>
<a href="tel:+5352223344">Llamar</a>
<a href="https://wa.me/5354445566">WhatsApp</a>
<div data-phone="55556666"></div>
<style>.price { content: "59998888"; }</style>
</body></html>`

	got, err := parser.ExtractFromHTML(page)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"+5352223344",
		"+5354445566",
		"+5355556666",
		"+5358123456",
	}, got)
}

func TestExtractFromHTMLKeepsSiblingsApart(t *testing.T) {
	parser := NewPhoneParser()

	page := `<ul><li>Precio 50</li><li>53512345</li></ul>`

	got, err := parser.ExtractFromHTML(page)
	require.NoError(t, err)
	assert.Equal(t, []string{"+5353512345"}, got)
}
