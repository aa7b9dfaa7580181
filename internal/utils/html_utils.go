package utils

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HardenEmailHTML prepares rendered comment HTML for an email body: images are
// replaced by their alt text (mail clients would fetch them and leak the
// reader's address) and every link opens outside the mail client.
func HardenEmailHTML(htmlStr string) string {
	if htmlStr == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return htmlStr
	}

	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		alt, _ := s.Attr("alt")
		s.ReplaceWithHtml("<em>" + escapeText(alt) + "</em>")
	})

	doc.Find("a").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") && !strings.HasPrefix(href, "mailto:") {
			s.ReplaceWithHtml(escapeText(s.Text()))
			return
		}
		s.SetAttr("target", "_blank")
		s.SetAttr("rel", "nofollow noopener noreferrer")
	})

	// goquery renders full document tags if missing, we just want the body content
	out, _ := doc.Find("body").Html()
	if out == "" {
		out, _ = doc.Html()
	}
	return strings.TrimSpace(out)
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
