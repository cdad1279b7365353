package fetch

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Form is an HTML form lifted off a page: its resolved action URL plus every
// named input's current value. Mirrors what a browser would submit. Buttons
// are not lifted; a browser sends only the clicked one, so the caller names
// it via Set.
type Form struct {
	Action string
	Values map[string]string
}

// FindForm locates a form by its name attribute and collects its inputs.
// The action URL is resolved against pageURL.
func FindForm(doc *goquery.Document, name string, pageURL string) (Form, bool) {
	sel := doc.Find(fmt.Sprintf("form[name=%q]", name))
	if sel.Length() == 0 {
		return Form{}, false
	}
	return liftForm(sel.First(), pageURL), true
}

func liftForm(sel *goquery.Selection, pageURL string) Form {
	form := Form{Values: make(map[string]string)}

	action, _ := sel.Attr("action")
	form.Action = resolveURL(pageURL, action)

	sel.Find("input, select, textarea").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		switch in.Get(0).Data {
		case "select":
			if v, ok := in.Find("option[selected]").First().Attr("value"); ok {
				form.Values[name] = v
			} else {
				form.Values[name] = ""
			}
		case "textarea":
			form.Values[name] = in.Text()
		default:
			typ, _ := in.Attr("type")
			switch typ {
			case "submit", "button", "image", "reset":
				return
			case "checkbox", "radio":
				if !inputChecked(in) {
					return
				}
			}
			v, _ := in.Attr("value")
			form.Values[name] = v
		}
	})
	return form
}

func inputChecked(in *goquery.Selection) bool {
	_, ok := in.Attr("checked")
	return ok
}

// Set overrides one form value.
func (f Form) Set(name, value string) Form {
	f.Values[name] = value
	return f
}

// ResolveURL resolves href against base, falling back to href verbatim when
// either side fails to parse.
func ResolveURL(base, href string) string {
	return resolveURL(base, href)
}

func resolveURL(base, href string) string {
	if href == "" {
		return base
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}
