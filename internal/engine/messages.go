package engine

import (
	"context"
	"strings"

	"agentmarket/internal/domain"
	"agentmarket/internal/events"
	"agentmarket/internal/repo"
)

// SendMessage appends a chat entry between the job's parties. Messaging
// opens once an agent is assigned and stays open through disputes.
func (e Engine) SendMessage(ctx context.Context, jobID int64, sender, content string) (domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return domain.ChatMessage{}, newError(KindInvalidAmount, "message content is required")
	}
	if e.Config != nil && len(content) > e.Config.Limits.MaxMessageBytes {
		return domain.ChatMessage{}, newError(KindInvalidAmount, "message exceeds %d bytes", e.Config.Limits.MaxMessageBytes)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.ChatMessage{}, newError(KindNotFound, "job %d not found", jobID)
		}
		return domain.ChatMessage{}, err
	}
	if j.Agent == nil {
		return domain.ChatMessage{}, newError(KindNoAgent, "job %d has no assigned agent to message", jobID)
	}
	var recipient string
	switch sender {
	case j.Client:
		recipient = *j.Agent
	case *j.Agent:
		recipient = j.Client
	default:
		return domain.ChatMessage{}, newError(KindUnauthorized, "only a party to the job may send messages")
	}
	id, err := e.Repo.NextSeq(ctx, tx, repo.SeqMessages)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	m := domain.ChatMessage{
		ID:        id,
		JobID:     jobID,
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Timestamp: e.nowString(),
	}
	if err := e.Repo.InsertMessageTx(ctx, tx, m); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := e.writer().Append(ctx, tx, "message.sent", "job", itoa(jobID), sender, events.EventPayload{
		"message_id": id,
	}); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChatMessage{}, err
	}
	return m, nil
}

// MarkMessagesRead flags every unread message addressed to the caller on a
// job. Returns how many were flipped.
func (e Engine) MarkMessagesRead(ctx context.Context, jobID int64, actor string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetJobTx(ctx, tx, jobID); err != nil {
		if err == repo.ErrNotFound {
			return 0, newError(KindNotFound, "job %d not found", jobID)
		}
		return 0, err
	}
	n, err := e.Repo.MarkMessagesReadTx(ctx, tx, jobID, actor)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
