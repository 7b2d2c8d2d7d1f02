// Package markdown implements the HTML comment stripping applied to pull
// request bodies before they become merge commit messages.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

// span is a half-open byte range [start, end).
type span struct {
	start int
	end   int
}

// StripHTMLComments removes HTML comments embedded in raw markdown while
// leaving every other byte untouched:
//
//  1. locate the regions of the message that parse as embedded HTML
//  2. tokenize each region and record the comment token spans
//  3. slice the comment spans out of the original message
//
// Carriage returns are removed before analysis because markdown HTML-region
// detection is line-ending sensitive.
func StripHTMLComments(raw string) string {
	message := strings.ReplaceAll(raw, "\r", "")

	var comments []span
	for _, region := range htmlRegions(message) {
		for _, c := range commentSpans(message[region.start:region.end]) {
			comments = append(comments, span{region.start + c.start, region.start + c.end})
		}
	}

	// Delete the highest offsets first so earlier deletions never invalidate
	// the spans not yet processed.
	for i := len(comments) - 1; i >= 0; i-- {
		message = message[:comments[i].start] + message[comments[i].end:]
	}
	return message
}

// htmlRegions returns the byte ranges of message occupied by HTML blocks and
// inline raw HTML, ascending and non-overlapping.
func htmlRegions(message string) []span {
	source := []byte(message)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var regions []span
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.HTMLBlock:
			if region, ok := htmlBlockRegion(node); ok {
				regions = append(regions, region)
			}
		case *ast.RawHTML:
			if node.Segments.Len() > 0 {
				first := node.Segments.At(0)
				last := node.Segments.At(node.Segments.Len() - 1)
				regions = append(regions, span{first.Start, last.Stop})
			}
		}
		return ast.WalkContinue, nil
	})
	return regions
}

func htmlBlockRegion(block *ast.HTMLBlock) (span, bool) {
	lines := block.Lines()
	if lines.Len() == 0 {
		return span{}, false
	}
	region := span{lines.At(0).Start, lines.At(lines.Len() - 1).Stop}
	if block.HasClosure() {
		region.end = block.ClosureLine.Stop
	}
	return region, true
}

// commentSpans tokenizes fragment as HTML and returns the byte range of every
// comment token, relative to the fragment.
func commentSpans(fragment string) []span {
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))

	var spans []span
	offset := 0
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return spans
		}
		raw := tokenizer.Raw()
		if tokenType == html.CommentToken {
			spans = append(spans, span{offset, offset + len(raw)})
		}
		offset += len(raw)
	}
}
