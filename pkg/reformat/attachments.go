package reformat

import (
	"strconv"
	"strings"
	"time"
)

// File is the subset of an origin platform file object the bridge cares
// about. Files without a Name (deleted/tombstoned uploads) are skipped.
type File struct {
	Name string
}

// AttachmentField is a titled value inside an attachment.
type AttachmentField struct {
	Title string
	Value string
}

// Attachment is a platform-neutral rendering of a Slack-style message
// attachment. Empty strings mean the field was absent; a zero Timestamp
// means no timestamp.
type Attachment struct {
	Pretext    string
	AuthorName string
	AuthorLink string
	Title      string
	TitleLink  string
	Text       string
	ImageURL   string
	Fields     []AttachmentField
	Footer     string
	Timestamp  int64
}

// FormatFiles renders a summary line per named file, in both flavors.
// Files without a name are skipped. hasContent tells the renderer whether
// the message already has visible text before the file lines, so the
// output never starts a message with a stray blank line.
func FormatFiles(files []File, hasContent bool) Flavors {
	var out Flavors
	for _, file := range files {
		if file.Name == "" {
			continue
		}
		line := "(Bridged Message included file: " + file.Name + ")"

		if hasContent {
			out.Markdown += "\n"
			out.Plaintext += "\n"
		}
		hasContent = true
		out.Markdown += "*" + line + "*"
		out.Plaintext += line
	}
	return out
}

// FormatAttachments renders an attachment list as text to append after the
// message body, in both flavors. Attachment body text, pretext, and footer
// carry the same inline markup as message text, so they pass through the
// pipeline before layout. messageText and editOrDelete only affect the
// leading separator; the content of messageText is not used.
func (p *Pipeline) FormatAttachments(messageText string, attachments []Attachment, editOrDelete bool) Flavors {
	var md, plain strings.Builder

	if len(attachments) == 0 {
		return Flavors{}
	}

	if editOrDelete || len(messageText) > 0 {
		md.WriteString("\n\n")
		plain.WriteString("\n\n")
	}

	for i, att := range attachments {
		if i > 0 {
			md.WriteString("\n\n")
			plain.WriteString("\n\n")
		}
		if att.Pretext != "" {
			pretext := p.Rewrite(att.Pretext)
			md.WriteString(pretext + "\n")
			plain.WriteString(pretext + "\n")
		}
		if att.Text == "" && att.Title == "" && att.AuthorName == "" {
			continue
		}

		if !editOrDelete && len(messageText) == 0 && att.Pretext == "" {
			md.WriteString("\n")
			plain.WriteString("\n")
		}
		md.WriteString("```quote\n")

		if att.AuthorLink != "" {
			md.WriteString("[" + att.AuthorName + "](" + att.AuthorLink + ")\n")
			plain.WriteString(att.AuthorName + ": " + att.AuthorLink + "\n")
		} else if att.AuthorName != "" {
			md.WriteString(att.AuthorName + "\n")
			plain.WriteString(att.AuthorName + "\n")
		}

		if att.TitleLink != "" {
			md.WriteString("**[" + att.Title + "](" + att.TitleLink + ")**\n")
			plain.WriteString(att.Title + ": " + att.TitleLink + "\n")
		} else if att.Title != "" {
			md.WriteString("**" + att.Title + "**\n")
			plain.WriteString(att.Title + "\n")
		}

		if att.Text != "" {
			text := p.Rewrite(att.Text)
			md.WriteString(text + "\n")
			plain.WriteString(text + "\n")
		}

		if att.ImageURL != "" {
			md.WriteString("[Image](" + att.ImageURL + ")\n")
			plain.WriteString("(Image: " + att.ImageURL + ")\n")
		}

		for _, field := range att.Fields {
			if field.Title != "" {
				md.WriteString("**" + field.Title + "**\n")
				plain.WriteString(field.Title + "\n")
			}
			if field.Value != "" {
				md.WriteString(field.Value + "\n")
				plain.WriteString(field.Value + "\n")
			}
		}

		footer := att.Footer
		if footer != "" {
			footer = p.Rewrite(footer)
			md.WriteString("*" + footer + "*")
			plain.WriteString(footer)
		}
		if footer != "" && att.Timestamp != 0 {
			md.WriteString(" | ")
			plain.WriteString(" | ")
		}
		if att.Timestamp != 0 {
			when := time.Unix(att.Timestamp, 0).Format(time.ANSIC)
			md.WriteString("*" + when + "*")
			plain.WriteString(when)
		}
		if footer != "" || att.Timestamp != 0 {
			md.WriteString("\n")
			plain.WriteString("\n")
		}

		md.WriteString("```")
	}

	return Flavors{Markdown: md.String(), Plaintext: plain.String()}
}

// ParseTimestamp converts a Slack-style numeric timestamp string (possibly
// fractional, like "1503435956.000247") to whole seconds. Returns 0 on
// anything unparseable.
func ParseTimestamp(ts string) int64 {
	if ts == "" {
		return 0
	}
	if dot := strings.IndexByte(ts, '.'); dot >= 0 {
		ts = ts[:dot]
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
