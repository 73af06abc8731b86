package main

import (
	"encoding/xml"
	"io"
)

type OpmlDocument struct {
	Head OpmlHead `xml:"head"`
	Body OpmlBody `xml:"body"`
}

type OpmlHead struct {
	Title string `xml:"title"`
}

type OpmlBody struct {
	Outlines []OpmlOutline `xml:"outline"`
}

type OpmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Type     string        `xml:"type,attr"`
	URL      string        `xml:"xmlUrl,attr"`
	Outlines []OpmlOutline `xml:"outline"`
}

func parseOPML(r io.Reader) (*OpmlDocument, error) {
	var doc OpmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FeedURLs returns the xmlUrl of every outline in document order. Category outlines are
// descended into and duplicates are dropped.
func (doc *OpmlDocument) FeedURLs() []string {
	seen := make(map[string]struct{})
	var urls []string

	var walk func([]OpmlOutline)
	walk = func(outlines []OpmlOutline) {
		for _, o := range outlines {
			if o.URL != "" {
				if _, ok := seen[o.URL]; !ok {
					seen[o.URL] = struct{}{}
					urls = append(urls, o.URL)
				}
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)

	return urls
}
