package scrape

import (
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/rs/zerolog/log"
)

// htmlToMarkdown converts an HTML fragment to markdown. Empty or
// unconvertible input yields an empty string; ingestion treats that as
// "no content retrieved".
func htmlToMarkdown(html string) string {
	if html == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		log.Debug().Err(err).Msg("html to markdown conversion failed")
		return ""
	}
	return md
}
