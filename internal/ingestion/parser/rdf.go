package parser

import "encoding/xml"

// rdfDocument mirrors the subset of a pg<N>.rdf file the catalog uses.
type rdfDocument struct {
	XMLName xml.Name   `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# RDF"`
	Ebooks  []rdfEbook `xml:"http://www.gutenberg.org/2009/pgterms/ ebook"`
}

type rdfEbook struct {
	About       string           `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# about,attr"`
	Titles      []string         `xml:"http://purl.org/dc/terms/ title"`
	Creators    []rdfAgentHolder `xml:"http://purl.org/dc/terms/ creator"`
	Translators []rdfAgentHolder `xml:"http://id.loc.gov/vocabulary/relators/ trl"`
	Languages   []rdfDescribed   `xml:"http://purl.org/dc/terms/ language"`
	Subjects    []rdfDescribed   `xml:"http://purl.org/dc/terms/ subject"`
	Bookshelves []rdfDescribed   `xml:"http://www.gutenberg.org/2009/pgterms/ bookshelf"`
	Types       []rdfDescribed   `xml:"http://purl.org/dc/terms/ type"`
	Rights      []string         `xml:"http://purl.org/dc/terms/ rights"`
	Downloads   string           `xml:"http://www.gutenberg.org/2009/pgterms/ downloads"`
	Formats     []rdfFileHolder  `xml:"http://purl.org/dc/terms/ hasFormat"`
}

type rdfAgentHolder struct {
	Agents []rdfAgent `xml:"http://www.gutenberg.org/2009/pgterms/ agent"`
}

type rdfAgent struct {
	Names     []string `xml:"http://www.gutenberg.org/2009/pgterms/ name"`
	BirthDate string   `xml:"http://www.gutenberg.org/2009/pgterms/ birthdate"`
	DeathDate string   `xml:"http://www.gutenberg.org/2009/pgterms/ deathdate"`
}

// rdfDescribed is a property whose values sit in rdf:Description/rdf:value.
type rdfDescribed struct {
	Descriptions []rdfDescription `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`
}

type rdfDescription struct {
	Values []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# value"`
}

func (d rdfDescribed) values() []string {
	var out []string
	for _, desc := range d.Descriptions {
		out = append(out, desc.Values...)
	}
	return out
}

type rdfFileHolder struct {
	Files []rdfFile `xml:"http://www.gutenberg.org/2009/pgterms/ file"`
}

type rdfFile struct {
	About    string         `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# about,attr"`
	Formats  []rdfDescribed `xml:"http://purl.org/dc/terms/ format"`
	Modified []string       `xml:"http://purl.org/dc/terms/ modified"`
}
