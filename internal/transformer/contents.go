package transformer

import (
	"strings"

	"parley/internal/models"
	"parley/internal/stanza"
)

// parseCleartext builds the content parts of an unencrypted message: one text
// part per body language, then one file part per out-of-band URL. The reply
// fallback is removed from the default body, and a body that only repeats an
// attached URL is dropped.
func parseCleartext(msg *stanza.Message) *ContentWrapper {
	urls := msg.OutOfBandURLs()
	attached := make(map[string]bool, len(urls))
	for _, u := range urls {
		attached[u] = true
	}

	w := &ContentWrapper{}
	for i, b := range msg.Bodies() {
		text := b.Text
		if i == 0 {
			text, _ = msg.BodyWithoutFallback(stanza.NSReply)
		}
		if strings.TrimSpace(text) == "" || attached[strings.TrimSpace(text)] {
			continue
		}
		w.Contents = append(w.Contents, models.MessageContent{
			Type:     models.PartTypeText,
			Language: b.Lang,
			Body:     text,
		})
	}
	for _, u := range urls {
		w.Contents = append(w.Contents, models.MessageContent{Type: models.PartTypeFile, URL: u})
	}
	return w
}

// quoteText turns a quoted reply fallback into plain text.
func quoteText(fallback string) string {
	lines := strings.Split(strings.TrimSpace(fallback), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimPrefix(line, ">")
		out = append(out, strings.TrimPrefix(line, " "))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
