package slack

import (
	slackapi "github.com/slack-go/slack"

	"github.com/tinyland-inc/relayclaw/pkg/bridge"
	"github.com/tinyland-inc/relayclaw/pkg/reformat"
)

// convertMessage maps a platform message event onto the neutral event
// shape, including the nested payloads edits and deletes carry.
func convertMessage(ev *slackapi.MessageEvent) *bridge.Event {
	out := convertMsg(&ev.Msg)
	if ev.SubMessage != nil {
		out.Message = convertMsg(ev.SubMessage)
	}
	if ev.PreviousMessage != nil {
		out.Previous = convertMsg(ev.PreviousMessage)
	}
	return out
}

func convertMsg(m *slackapi.Msg) *bridge.Event {
	return &bridge.Event{
		Subtype:     m.SubType,
		UserID:      m.User,
		BotID:       m.BotID,
		ChannelID:   m.Channel,
		ClientMsgID: m.ClientMsgID,
		Text:        m.Text,
		Timestamp:   m.Timestamp,
		Edited:      m.Edited != nil,
		Attachments: convertAttachments(m.Attachments),
		Files:       convertFiles(m.Files),
	}
}

func convertAttachments(in []slackapi.Attachment) []reformat.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]reformat.Attachment, len(in))
	for i, a := range in {
		fields := make([]reformat.AttachmentField, len(a.Fields))
		for j, f := range a.Fields {
			fields[j] = reformat.AttachmentField{Title: f.Title, Value: f.Value}
		}
		out[i] = reformat.Attachment{
			Pretext:    a.Pretext,
			AuthorName: a.AuthorName,
			AuthorLink: a.AuthorLink,
			Title:      a.Title,
			TitleLink:  a.TitleLink,
			Text:       a.Text,
			ImageURL:   a.ImageURL,
			Fields:     fields,
			Footer:     a.Footer,
			Timestamp:  reformat.ParseTimestamp(a.Ts.String()),
		}
	}
	return out
}

func convertFiles(in []slackapi.File) []reformat.File {
	if len(in) == 0 {
		return nil
	}
	out := make([]reformat.File, len(in))
	for i, f := range in {
		out[i] = reformat.File{Name: f.Name}
	}
	return out
}
