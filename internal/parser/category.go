package parser

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const DefaultCategory = "Otros"

type categoryRule struct {
	keywords []string
	category string
}

// Checked in order; the first rule with a keyword in the URL path or title wins.
var categoryRules = []categoryRule{
	{[]string{"movil", "telefono", "smartphone", "celular", "iphone", "samsung", "xiaomi"}, "Móviles"},
	{[]string{"computadora", "laptop", "ordenador", "pc-", "monitor", "impresora"}, "Computadoras"},
	{[]string{"foto", "camara", "video"}, "Foto / Video"},
	{[]string{"television", "televisor", "tv-", "smart-tv"}, "TV / Accesorios"},
	{[]string{"electrodomestico", "nevera", "refrigerador", "lavadora", "microondas", "ventilador", "plancha", "cocina"}, "Electrodomésticos"},
	{[]string{"mueble", "decoracion", "sofa", "cama", "mesa", "silla"}, "Muebles y Decoración"},
	{[]string{"ropa", "zapato", "calzado", "vestido", "camisa", "pantalon"}, "Ropa / Zapatos / Accesorios"},
	{[]string{"mascota", "perro", "gato", "animal"}, "Mascotas / Animales"},
	{[]string{"libro", "revista"}, "Libros & Revistas"},
	{[]string{"joya", "reloj", "anillo"}, "Joyas / Relojes"},
	{[]string{"auto", "carro", "motocicleta", "bicicleta", "piezas"}, "Autos / Transporte"},
	{[]string{"casa", "apartamento", "vivienda", "alquiler", "permuta", "inmueble"}, "Vivienda"},
	{[]string{"empleo", "trabajo", "oferta-de-empleo"}, "Empleos"},
	{[]string{"servicio", "reparacion", "clases", "curso"}, "Servicios"},
}

// Categorize maps a listing to a category from keywords in its URL path and title.
func Categorize(pageURL, title string) string {
	var haystack string
	if u, err := url.Parse(pageURL); err == nil {
		haystack = u.Path
	}
	haystack = foldAccents(strings.ToLower(haystack + " " + strings.ReplaceAll(title, " ", "-")))

	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.category
			}
		}
	}
	return DefaultCategory
}

func foldAccents(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if r >= 0x300 && r <= 0x36f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
