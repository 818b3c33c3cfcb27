package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("channelId", ErrInvalidChannel)

	err := validation.Err()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidChannel))
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("url", "attachment url is required")

	validation := &ValidationErrors{}
	validation.Add("attachments", nested)

	err := validation.Err()
	require.Error(t, err)

	var list *ValidationErrors
	require.True(t, errors.As(err, &list))
	require.Len(t, list.Errors, 1)
	require.Equal(t, "attachments.url", list.Errors[0].Field)
}

func TestValidateOutgoing(t *testing.T) {
	tests := []struct {
		name        string
		channelID   int64
		content     string
		attachments []Attachment
		priority    Priority
		wantErr     error
	}{
		{name: "text only", channelID: 7, content: "hello"},
		{name: "attachment only", channelID: 7, attachments: []Attachment{{URL: "https://x/a.png", Kind: AttachmentImage}}},
		{name: "blank content no attachments", channelID: 7, content: "   ", wantErr: ErrEmptyMessage},
		{name: "missing channel", channelID: 0, content: "hi", wantErr: ErrInvalidChannel},
		{name: "attachment without url", channelID: 7, attachments: []Attachment{{Kind: AttachmentFile}}, wantErr: ErrInvalidAttachment},
		{name: "bad priority", channelID: 7, content: "hi", priority: "someday", wantErr: ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutgoing(tt.channelID, tt.content, tt.attachments, tt.priority)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMessageIDProvisional(t *testing.T) {
	require.True(t, MessageID("tmp-ab12cd34-1").IsProvisional())
	require.False(t, ServerMessageID(501).IsProvisional())

	n, err := ParseServerMessageID(ServerMessageID(501))
	require.NoError(t, err)
	require.Equal(t, int64(501), n)
}

func TestMergeMessageKeepsIdentityAndSendTime(t *testing.T) {
	existing := Message{ID: "42", ChannelID: 3, Content: "old", Sender: &UserRef{ID: 9}}
	existing.CreatedAt = existing.CreatedAt.AddDate(2026, 0, 0)

	incoming := Message{ID: "42", ChannelID: 3, Content: "new", Status: "done"}
	merged := MergeMessage(existing, incoming)

	require.Equal(t, existing.CreatedAt, merged.CreatedAt)
	require.Equal(t, "new", merged.Content)
	require.Equal(t, "done", merged.Status)
	require.NotNil(t, merged.Sender)
	require.Equal(t, int64(9), merged.Sender.ID)
}

func TestMessagePatchApply(t *testing.T) {
	content := "edited"
	high := PriorityHigh
	patch := MessagePatch{ID: "1", Content: &content, Priority: &high}
	require.False(t, patch.Empty())

	out := patch.Apply(Message{ID: "1", Content: "orig", Priority: PriorityLow})
	require.Equal(t, "edited", out.Content)
	require.Equal(t, PriorityHigh, out.Priority)
	require.True(t, MessagePatch{}.Empty())
}

func TestNormalizeMembers(t *testing.T) {
	require.Equal(t, []int64{1, 3, 9}, NormalizeMembers([]int64{9, 3, 0, 1, 3, -4}))
	require.Nil(t, NormalizeMembers(nil))
}
