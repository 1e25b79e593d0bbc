package domain

// Page is one crawled page as returned by the crawl API.
type Page struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	Markdown  string `json:"markdown"`
}

// Bundle is the content of a site from its most recent completed crawl.
type Bundle []Page
