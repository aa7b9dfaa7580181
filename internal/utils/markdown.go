package utils

import (
	"bytes"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	mdParser = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(
			goldhtml.WithHardWraps(),
			goldhtml.WithXHTML(),
		),
	)
	// 邮件正文只允许基础排版标签
	emailPolicy = bluemonday.UGCPolicy()
)

func init() {
	emailPolicy.AddTargetBlankToFullyQualifiedLinks(true)
	emailPolicy.RequireNoFollowOnLinks(true)
	emailPolicy.RequireNoReferrerOnLinks(true)
}

// RenderCommentHTML turns the plain comment text into sanitized HTML for
// notification mail. Raw HTML in the text is escaped, never rendered.
func RenderCommentHTML(text string) string {
	var buf bytes.Buffer
	if err := mdParser.Convert([]byte(html.EscapeString(text)), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}

	sanitized := emailPolicy.SanitizeBytes(buf.Bytes())
	return HardenEmailHTML(string(sanitized))
}
