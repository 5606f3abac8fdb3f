package messages

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hive/internal/pseudonym"
)

const maxPlatformIDLength = 32

var (
	// ErrInvalidMessageID indicates a message identifier that is empty or not a decimal string.
	ErrInvalidMessageID = errors.New("messages: invalid message id")
	// ErrInvalidChannelID indicates a channel identifier that is empty or not a decimal string.
	ErrInvalidChannelID = errors.New("messages: invalid channel id")
	// ErrInvalidAuthorID indicates an empty author identifier.
	ErrInvalidAuthorID = errors.New("messages: invalid author id")
	// ErrInvalidTimestamp indicates a zero message timestamp.
	ErrInvalidTimestamp = errors.New("messages: invalid timestamp")
)

// Message is the persisted archive row. AuthorID always holds the
// pseudonymized author id, never the raw platform id. Platform-assigned
// identifiers are stored as opaque decimal strings; some platforms issue ids
// beyond the safe range of machine integers.
type Message struct {
	MessageID        string  `gorm:"column:message_id;primaryKey;size:32;not null"`
	AuthorID         string  `gorm:"column:author_id;size:128;not null;index:idx_message_author"`
	ChannelID        string  `gorm:"column:channel_id;size:32;not null;index:idx_message_channel"`
	TimestampSeconds int64   `gorm:"column:timestamp_s;not null;index:idx_message_timestamp"`
	Content          *string `gorm:"column:content;type:text"`
	AttachmentURL    *string `gorm:"column:attachment_url;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "message"
}

// Timestamp exposes the creation time in UTC.
func (m Message) Timestamp() time.Time {
	return time.Unix(m.TimestampSeconds, 0).UTC()
}

// Day returns the UTC calendar day bucket key for the message.
func (m Message) Day() string {
	return DayKey(m.Timestamp())
}

// MessageDay is the derived per-day message counter.
type MessageDay struct {
	Date  string `gorm:"column:date;primaryKey;size:10;not null"`
	Count int64  `gorm:"column:count;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MessageDay) TableName() string {
	return "messageday"
}

// DayKey formats a timestamp as its UTC calendar day bucket key.
func DayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// Inbound is the normalized message record produced by a platform-event
// adapter. AuthorID is the raw platform id; Normalize pseudonymizes it before
// anything is persisted.
type Inbound struct {
	MessageID     string
	AuthorID      string
	ChannelID     string
	Timestamp     time.Time
	Content       string
	AttachmentURL string
	ThreadCreated bool
}

// Eligible reports whether the record should be archived at all. Messages
// with neither text nor an attachment carry no analytical value, and
// synthetic thread-creation notices would double-count against the parent
// channel.
func (in Inbound) Eligible() bool {
	if in.ThreadCreated {
		return false
	}
	return strings.TrimSpace(in.Content) != "" || in.AttachmentURL != ""
}

// Normalize validates the record and converts it into a persistable Message,
// replacing the real author id with its pseudonym.
func (in Inbound) Normalize(hasher *pseudonym.Hasher) (Message, error) {
	if err := validatePlatformID(in.MessageID); err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidMessageID, in.MessageID)
	}
	if err := validatePlatformID(in.ChannelID); err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidChannelID, in.ChannelID)
	}
	if strings.TrimSpace(in.AuthorID) == "" {
		return Message{}, ErrInvalidAuthorID
	}
	if in.Timestamp.IsZero() {
		return Message{}, ErrInvalidTimestamp
	}

	message := Message{
		MessageID:        in.MessageID,
		AuthorID:         hasher.Hash(in.AuthorID),
		ChannelID:        in.ChannelID,
		TimestampSeconds: in.Timestamp.UTC().Unix(),
	}
	if content := in.Content; content != "" {
		message.Content = &content
	}
	if url := in.AttachmentURL; url != "" {
		message.AttachmentURL = &url
	}
	return message, nil
}

func validatePlatformID(raw string) error {
	if raw == "" || len(raw) > maxPlatformIDLength {
		return errors.New("length out of range")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return errors.New("non-decimal character")
		}
	}
	return nil
}
