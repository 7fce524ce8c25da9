package validator

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vedran77/pulse/internal/domain"
)

const (
	MaxContentLength = 4000
	MaxAttachments   = 10
	MaxEmojiLength   = 16
)

// Codes reported for failed fields.
const (
	CodeInvalidChannelName = "INVALID_CHANNEL_NAME"
	CodeInvalidVisibility  = "INVALID_VISIBILITY"
	CodeEmptyContent       = "EMPTY_CONTENT"
	CodeContentTooLong     = "CONTENT_TOO_LONG"
	CodeTooManyAttachments = "TOO_MANY_ATTACHMENTS"
	CodeInvalidAttachment  = "INVALID_ATTACHMENT"
	CodeInvalidEmoji       = "INVALID_EMOJI"
)

type FieldError struct {
	Code    string
	Message string
}

type ValidationErrors map[string]FieldError

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, code, message string) {
	v[field] = FieldError{Code: code, Message: message}
}

// First returns one failure, preferring the alphabetically first field
// so the result is stable.
func (v ValidationErrors) First() FieldError {
	var field string
	for f := range v {
		if field == "" || f < field {
			field = f
		}
	}
	return v[field]
}

func ValidateChannel(name, visibility string) ValidationErrors {
	errs := make(ValidationErrors)

	name = strings.TrimSpace(name)
	if name == "" {
		errs.Add("name", CodeInvalidChannelName, "Channel name is required")
	} else if len(name) < 2 {
		errs.Add("name", CodeInvalidChannelName, "Channel name must be at least 2 characters")
	} else if len(name) > 100 {
		errs.Add("name", CodeInvalidChannelName, "Channel name is too long")
	} else if strings.ContainsFunc(name, unicode.IsControl) {
		errs.Add("name", CodeInvalidChannelName, "Channel name contains invalid characters")
	}

	if visibility != "" && visibility != string(domain.VisibilityPublic) && visibility != string(domain.VisibilityPrivate) {
		errs.Add("visibility", CodeInvalidVisibility, "Channel visibility must be public or private")
	}

	return errs
}

// ValidateMessage checks composed content. A message needs text or at
// least one attachment.
func ValidateMessage(content string, attachments []domain.Attachment) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		errs.Add("content", CodeEmptyContent, "Message content is required")
	} else if utf8.RuneCountInString(content) > MaxContentLength {
		errs.Add("content", CodeContentTooLong, fmt.Sprintf("Message is longer than %d characters", MaxContentLength))
	}

	if len(attachments) > MaxAttachments {
		errs.Add("attachments", CodeTooManyAttachments, fmt.Sprintf("At most %d attachments are allowed", MaxAttachments))
		return errs
	}
	for i, a := range attachments {
		field := fmt.Sprintf("attachments[%d]", i)
		u, err := url.Parse(a.URL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs.Add(field, CodeInvalidAttachment, "Attachment URL must be an absolute http(s) URL")
			continue
		}
		switch a.Kind {
		case domain.AttachmentImage, domain.AttachmentVideo, domain.AttachmentFile:
		default:
			errs.Add(field, CodeInvalidAttachment, "Attachment kind must be image, video, or file")
		}
	}

	return errs
}

func ValidateEmoji(emoji string) ValidationErrors {
	errs := make(ValidationErrors)

	if emoji == "" {
		errs.Add("emoji", CodeInvalidEmoji, "Emoji is required")
	} else if utf8.RuneCountInString(emoji) > MaxEmojiLength {
		errs.Add("emoji", CodeInvalidEmoji, "Emoji is too long")
	} else if strings.ContainsFunc(emoji, unicode.IsSpace) {
		errs.Add("emoji", CodeInvalidEmoji, "Emoji cannot contain whitespace")
	}

	return errs
}
