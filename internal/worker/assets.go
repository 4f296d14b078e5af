package worker

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DiscoverAssets returns the same-origin script and stylesheet paths
// referenced by an HTML document, in document order without duplicates.
func DiscoverAssets(doc []byte) []string {
	var (
		assets []string
		seen   = make(map[string]bool)
	)
	add := func(ref string) {
		p, ok := sameOriginPath(ref)
		if !ok || seen[p] {
			return
		}
		seen[p] = true
		assets = append(assets, p)
	}

	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return assets
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		switch tok.DataAtom {
		case atom.Script:
			if src := attr(tok, "src"); src != "" {
				add(src)
			}
		case atom.Link:
			rel := strings.ToLower(attr(tok, "rel"))
			if strings.Contains(rel, "stylesheet") || strings.Contains(rel, "modulepreload") {
				add(attr(tok, "href"))
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// sameOriginPath resolves ref against the site root. References with a
// scheme or host are rejected.
func sameOriginPath(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	root := &url.URL{Path: "/"}
	resolved := root.ResolveReference(u)
	if resolved.Path == "" {
		return "", false
	}
	return resolved.RequestURI(), true
}
