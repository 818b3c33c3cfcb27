package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/opsdesk/internal/chatsync"
	"github.com/tOgg1/opsdesk/internal/models"
)

func newSendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <channel-id> [message]",
		Short: "Send a message to a channel",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSend(cmd, args)
		},
	}
	cmd.Flags().String("reply-to", "", "message id to reply to")
	cmd.Flags().String("priority", "", "message priority: low, normal, high, urgent")
	cmd.Flags().Int64("task", 0, "linked task id")
	cmd.Flags().StringArray("attach", nil, "attachment URL (repeatable)")
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func (a *app) runSend(cmd *cobra.Command, args []string) error {
	channelID, err := parseChannelID(args[0])
	if err != nil {
		return err
	}
	content := ""
	if len(args) > 1 {
		content = args[1]
	}

	replyTo, _ := cmd.Flags().GetString("reply-to")
	rawPriority, _ := cmd.Flags().GetString("priority")
	taskID, _ := cmd.Flags().GetInt64("task")
	urls, _ := cmd.Flags().GetStringArray("attach")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	priority, err := models.ParsePriority(rawPriority)
	if err != nil {
		return fmt.Errorf("invalid priority %q", rawPriority)
	}
	attachments := make([]models.Attachment, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		attachments = append(attachments, models.Attachment{URL: u, Kind: attachmentKind(u)})
	}

	s, err := a.openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.engine.Send(cmd.Context(), chatsync.SendRequest{
		ChannelID:    channelID,
		Content:      content,
		Attachments:  attachments,
		ReplyToID:    models.MessageID(strings.TrimSpace(replyTo)),
		LinkedTaskID: taskID,
		Priority:     priority,
	})
	if err != nil {
		var sendErr *chatsync.SendError
		if errors.As(err, &sendErr) && !sendErr.RolledBack() {
			printConfirmed(cmd, result.Messages)
		}
		return err
	}

	if jsonOutput {
		payload, err := json.MarshalIndent(result.Messages, "", "  ")
		if err != nil {
			return fmt.Errorf("encode messages: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return nil
	}
	printConfirmed(cmd, result.Messages)
	return nil
}

func printConfirmed(cmd *cobra.Command, msgs []models.Message) {
	for _, msg := range msgs {
		fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
	}
}

// attachmentKind infers the kind from the URL's extension.
func attachmentKind(rawURL string) models.AttachmentKind {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch strings.ToLower(path.Ext(trimmed)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return models.AttachmentImage
	case ".mp4", ".mov", ".webm", ".mkv":
		return models.AttachmentVideo
	case ".mp3", ".wav", ".ogg", ".m4a", ".flac":
		return models.AttachmentAudio
	default:
		return models.AttachmentFile
	}
}
