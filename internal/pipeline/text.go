package pipeline

import (
	"context"

	"tribechat/internal/models"
)

// TextProcessor passes chat text through untouched.
type TextProcessor struct{}

func (p *TextProcessor) CanProcess(msg models.Message) bool {
	return msg.MessageType == models.MsgTypeText
}

func (p *TextProcessor) Process(_ context.Context, msg models.Message, _ *Context) Result {
	return Result{ShouldSave: true, ShouldDisplay: true, Processed: msg}
}
