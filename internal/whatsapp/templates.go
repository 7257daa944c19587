package whatsapp

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/maltedev/revolico-scraper/internal/models"
	"gopkg.in/yaml.v3"
)

const DefaultTemplate = "simple"

var defaultTemplates = map[string]string{
	"rico_promo": `🏝️ ¡Hola! Somos Rico-Cuba, una nueva plataforma para servicios cubanos.

Ayudamos a emprendedores cubanos a ofrecer sus servicios en línea. ¿Le gustaría saber más sobre nuestros servicios de marketing gratuitos?

🔗 Rico-Cuba.com`,

	"business_intro": `¡Hola! Vi su anuncio "{{.Title}}" en Revolico.

En Rico-Cuba ayudamos a negocios cubanos a llegar a más clientes en línea. Ofrecemos asesoría gratuita.

¿Tendría 5 minutos para una breve conversación? 📞`,

	"simple": `¡Hola! Vi su anuncio y me gustaría saber más sobre sus servicios. ¿Podríamos hablar brevemente? ¡Muchas gracias! 😊`,
}

// MessageData is what a template can reference.
type MessageData struct {
	Phone    string
	Title    string
	Seller   string
	Category string
	URL      string
}

func messageData(c models.Customer) MessageData {
	return MessageData{
		Phone:    c.Phone,
		Title:    c.SourceTitle,
		Seller:   c.Seller,
		Category: c.Category,
		URL:      c.SourceURL,
	}
}

// Templates holds the named outreach messages.
type Templates struct {
	texts map[string]string
}

func DefaultTemplates() *Templates {
	texts := make(map[string]string, len(defaultTemplates))
	for name, text := range defaultTemplates {
		texts[name] = text
	}
	return &Templates{texts: texts}
}

// LoadTemplates returns the defaults overlaid with a YAML map of name to
// text read from path.
func LoadTemplates(path string) (*Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	var extra map[string]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	for name, text := range extra {
		if _, err := template.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		t.texts[name] = text
	}
	return t, nil
}

func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.texts))
	for name := range t.texts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Templates) All() map[string]string {
	out := make(map[string]string, len(t.texts))
	for name, text := range t.texts {
		out[name] = text
	}
	return out
}

func (t *Templates) Text(name string) (string, error) {
	text, ok := t.texts[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return text, nil
}

// Message is a compiled template ready to render per customer.
type Message struct {
	tmpl *template.Template
}

// Compile picks the custom text when set, otherwise the named template.
func (t *Templates) Compile(name, custom string) (*Message, error) {
	text := custom
	if strings.TrimSpace(text) == "" {
		if name == "" {
			name = DefaultTemplate
		}
		var err error
		if text, err = t.Text(name); err != nil {
			return nil, err
		}
	}

	tmpl, err := template.New("message").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid message template: %w", err)
	}
	return &Message{tmpl: tmpl}, nil
}

func (m *Message) Render(c models.Customer) (string, error) {
	var b strings.Builder
	if err := m.tmpl.Execute(&b, messageData(c)); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return b.String(), nil
}
