package networks

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"affsync/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

// Scraped page tokens. Each parser returns *domain.TokenNotFoundError naming
// the field when the page does not carry it.

func parseDocument(body []byte, field string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TokenNotFoundError{Field: field}
	}
	return doc, nil
}

// FormAction reads the action attribute of the form matched by selector,
// resolved against pageURL.
func FormAction(body []byte, selector string, pageURL *url.URL) (string, error) {
	doc, err := parseDocument(body, "form_action")
	if err != nil {
		return "", err
	}
	action, ok := doc.Find(selector).First().Attr("action")
	action = strings.TrimSpace(action)
	if !ok || action == "" {
		return "", &domain.TokenNotFoundError{Field: "form_action"}
	}
	target, err := url.Parse(action)
	if err != nil {
		return "", &domain.TokenNotFoundError{Field: "form_action"}
	}
	if pageURL != nil {
		target = pageURL.ResolveReference(target)
	}
	return target.String(), nil
}

// InputValue reads <input name="..."> value, e.g. the CSRF "_token".
func InputValue(body []byte, name string) (string, error) {
	doc, err := parseDocument(body, name)
	if err != nil {
		return "", err
	}
	value, ok := doc.Find(`input[name="` + name + `"]`).First().Attr("value")
	if !ok || strings.TrimSpace(value) == "" {
		return "", &domain.TokenNotFoundError{Field: name}
	}
	return strings.TrimSpace(value), nil
}

var siteKeyPattern = regexp.MustCompile(`(?:data-sitekey|sitekey)["']?\s*[:=]\s*["']([\w-]{20,})["']`)

// SiteKey finds the reCAPTCHA site key from a data-sitekey attribute, or from
// an inline grecaptcha.render call.
func SiteKey(body []byte) (string, error) {
	doc, err := parseDocument(body, "sitekey")
	if err != nil {
		return "", err
	}
	if key, ok := doc.Find("[data-sitekey]").First().Attr("data-sitekey"); ok && strings.TrimSpace(key) != "" {
		return strings.TrimSpace(key), nil
	}
	if m := siteKeyPattern.FindSubmatch(body); m != nil {
		return string(m[1]), nil
	}
	return "", &domain.TokenNotFoundError{Field: "sitekey"}
}

// QueryValue reads one query parameter of rawURL.
func QueryValue(rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &domain.TokenNotFoundError{Field: name}
	}
	value := u.Query().Get(name)
	if value == "" {
		return "", &domain.TokenNotFoundError{Field: name}
	}
	return value, nil
}

// LoginActionTokens are the Keycloak login form tokens carried in the form
// action URL.
type LoginActionTokens struct {
	Action      string
	SessionCode string
	Execution   string
	ClientID    string
	TabID       string
}

// Endpoint is the action URL without its query.
func (t LoginActionTokens) Endpoint() string {
	u, err := url.Parse(t.Action)
	if err != nil {
		return t.Action
	}
	u.RawQuery = ""
	return u.String()
}

// Query rebuilds the action query in the order the login page sends it.
func (t LoginActionTokens) Query() domain.Params {
	return domain.Params{}.
		Add("session_code", t.SessionCode).
		Add("execution", t.Execution).
		Add("client_id", t.ClientID).
		Add("tab_id", t.TabID)
}

// ParseLoginActionTokens extracts the tokens of the #kc-form-login form.
func ParseLoginActionTokens(body []byte, pageURL *url.URL) (LoginActionTokens, error) {
	action, err := FormAction(body, "form#kc-form-login", pageURL)
	if err != nil {
		return LoginActionTokens{}, err
	}
	t := LoginActionTokens{Action: action}
	if t.SessionCode, err = QueryValue(action, "session_code"); err != nil {
		return t, err
	}
	if t.Execution, err = QueryValue(action, "execution"); err != nil {
		return t, err
	}
	if t.TabID, err = QueryValue(action, "tab_id"); err != nil {
		return t, err
	}
	// client_id is optional on some realms
	t.ClientID, _ = QueryValue(action, "client_id")
	return t, nil
}
