package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/tinyland-inc/relayclaw/pkg/directory"
)

// The connector doubles as the directory's metadata fetcher.

func (c *Connector) FetchUser(ctx context.Context, id string) (string, error) {
	user, err := c.api.GetUserInfoContext(ctx, id)
	if err != nil {
		return "", fmt.Errorf("users.info %s: %w", id, err)
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName, nil
	}
	return user.Name, nil
}

func (c *Connector) FetchBot(ctx context.Context, id string) (string, error) {
	bot, err := c.api.GetBotInfoContext(ctx, slackapi.GetBotInfoParameters{Bot: id})
	if err != nil {
		return "", fmt.Errorf("bots.info %s: %w", id, err)
	}
	return bot.UserID, nil
}

func (c *Connector) FetchChannel(ctx context.Context, id string) (*directory.ChannelInfo, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{
		ChannelID: id,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.info %s: %w", id, err)
	}
	return &directory.ChannelInfo{
		IsChannel: ch.IsChannel,
		IsIM:      ch.IsIM,
		IsGroup:   ch.IsGroup,
		IsMPIM:    ch.IsMpIM,
		Name:      ch.Name,
		UserID:    ch.User,
	}, nil
}
