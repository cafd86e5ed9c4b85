package esb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	// ErrSettingsNotFound is returned when the login page has no SETTINGS assignment
	ErrSettingsNotFound = errors.New("SETTINGS blob not found in login page")
	// ErrAutoFormNotFound is returned when the confirmation page has no auto-submitting form
	ErrAutoFormNotFound = errors.New("auto-submit form not found")
)

var settingsPattern = regexp.MustCompile(`var\s+SETTINGS\s*=\s*`)

// Settings is the configuration the identity provider embeds in its login page
type Settings struct {
	TransID string `json:"transId"`
	CSRF    string `json:"csrf"`
	Hosts   struct {
		Tenant string `json:"tenant"`
		Policy string `json:"policy"`
	} `json:"hosts"`
}

// AutoForm is the hidden form that replays the authorization code to the portal
type AutoForm struct {
	Action     string
	State      string
	ClientInfo string
	Code       string
}

// Values returns the form fields as a POST body
func (f *AutoForm) Values() url.Values {
	v := url.Values{}
	v.Set("state", f.State)
	v.Set("client_info", f.ClientInfo)
	v.Set("code", f.Code)
	return v
}

// PageParser extracts handshake tokens from identity provider pages. Upstream
// markup changes are contained behind this interface.
type PageParser interface {
	Settings(page []byte) (*Settings, error)
	AutoForm(page []byte) (*AutoForm, error)
}

// HTMLParser is the default PageParser
type HTMLParser struct{}

// Settings locates the `var SETTINGS = {...};` assignment and decodes the
// object that follows it
func (HTMLParser) Settings(page []byte) (*Settings, error) {
	loc := settingsPattern.FindIndex(page)
	if loc == nil {
		return nil, ErrSettingsNotFound
	}

	var settings Settings
	// Decode stops after the first value, leaving the trailing `;` and script
	if err := json.NewDecoder(bytes.NewReader(page[loc[1]:])).Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode SETTINGS: %w", err)
	}

	if settings.TransID == "" {
		return nil, fmt.Errorf("SETTINGS has no transId")
	}
	if settings.CSRF == "" {
		return nil, fmt.Errorf("SETTINGS has no csrf token")
	}

	return &settings, nil
}

// AutoForm finds <form id="auto"> and reads its action and hidden inputs
func (HTMLParser) AutoForm(page []byte) (*AutoForm, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	formNode := findElement(doc, func(n *html.Node) bool {
		return n.Data == "form" && attr(n, "id") == "auto"
	})
	if formNode == nil {
		return nil, ErrAutoFormNotFound
	}

	form := &AutoForm{Action: strings.TrimSpace(attr(formNode, "action"))}
	if form.Action == "" {
		return nil, fmt.Errorf("auto-submit form has no action")
	}

	inputs := map[string]*string{
		"state":       &form.State,
		"client_info": &form.ClientInfo,
		"code":        &form.Code,
	}
	for name, dst := range inputs {
		input := findElement(formNode, func(n *html.Node) bool {
			return n.Data == "input" && attr(n, "name") == name
		})
		if input == nil {
			return nil, fmt.Errorf("auto-submit form has no %q input", name)
		}
		*dst = attr(input, "value")
	}

	return form, nil
}

// findElement walks the tree depth-first and returns the first matching element
func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
