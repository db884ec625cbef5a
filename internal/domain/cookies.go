package domain

import (
	"net/http"
	"strings"
)

// CookieJar is an ordered name to value set. Setting a name that is already
// present replaces its value in place, so later values win.
type CookieJar struct {
	names  []string
	values map[string]string
}

func NewCookieJar() *CookieJar {
	return &CookieJar{values: make(map[string]string)}
}

// ParseCookieHeader reads a "a=1; b=2" header value.
func ParseCookieHeader(header string) *CookieJar {
	jar := NewCookieJar()
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		jar.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return jar
}

func (j *CookieJar) Set(name, value string) {
	if j.values == nil {
		j.values = make(map[string]string)
	}
	if _, ok := j.values[name]; !ok {
		j.names = append(j.names, name)
	}
	j.values[name] = value
}

func (j *CookieJar) Delete(name string) {
	if _, ok := j.values[name]; !ok {
		return
	}
	delete(j.values, name)
	for i, n := range j.names {
		if n == name {
			j.names = append(j.names[:i], j.names[i+1:]...)
			break
		}
	}
}

func (j *CookieJar) Get(name string) (string, bool) {
	if j == nil {
		return "", false
	}
	v, ok := j.values[name]
	return v, ok
}

func (j *CookieJar) Len() int {
	if j == nil {
		return 0
	}
	return len(j.names)
}

// Merge copies other into j, other's values win.
func (j *CookieJar) Merge(other *CookieJar) {
	if other == nil {
		return
	}
	for _, name := range other.names {
		j.Set(name, other.values[name])
	}
}

// MergeResponse applies Set-Cookie headers. Expired cookies are removed.
func (j *CookieJar) MergeResponse(cookies []*http.Cookie) {
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		if c.MaxAge < 0 || c.Value == "deleted" {
			j.Delete(c.Name)
			continue
		}
		j.Set(c.Name, c.Value)
	}
}

// HeaderString renders the jar as a Cookie request header value.
func (j *CookieJar) HeaderString() string {
	if j == nil || len(j.names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(j.names))
	for _, name := range j.names {
		parts = append(parts, name+"="+j.values[name])
	}
	return strings.Join(parts, "; ")
}

func (j *CookieJar) Clone() *CookieJar {
	out := NewCookieJar()
	out.Merge(j)
	return out
}
