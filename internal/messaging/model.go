package messaging

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindText   Kind = "text"
	KindFile   Kind = "file"
	KindSystem Kind = "system"
)

type FileKind string

const (
	FileImage         FileKind = "image"
	FileDocument      FileKind = "document"
	FileMedicalRecord FileKind = "medical_record"
	FilePrescription  FileKind = "prescription"
	FileOther         FileKind = "other"
)

func (k FileKind) valid() bool {
	switch k {
	case FileImage, FileDocument, FileMedicalRecord, FilePrescription, FileOther:
		return true
	}
	return false
}

// Message is one entry in an appointment's consultation channel. SenderID
// is nil for system messages.
type Message struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	SenderID      *uuid.UUID
	Kind          Kind
	Content       string
	FileID        *uuid.UUID
	Read          bool
	ReadAt        *time.Time
	CreatedAt     time.Time
}

// FileAttachment is metadata only; the bytes live in the file store under
// StorageKey.
type FileAttachment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	UploaderID    uuid.UUID
	OriginalName  string
	StorageKey    string
	MimeType      string
	SizeBytes     int64
	Kind          FileKind
	CreatedAt     time.Time
}

type FileUpload struct {
	OriginalName string
	StorageKey   string
	MimeType     string
	SizeBytes    int64
	Kind         FileKind
}

const (
	maxMessageLength = 5000
	maxFileBytes     = 16 << 20
)

var allowedExtensions = map[string]bool{
	".pdf": true, ".png": true, ".jpg": true, ".jpeg": true, ".doc": true, ".docx": true,
}

var (
	ErrForbidden      = errors.New("only appointment participants may use this channel")
	ErrChannelClosed  = errors.New("appointment is closed for new messages")
	ErrInvalidMessage = errors.New("message content is empty or too long")
	ErrInvalidFile    = errors.New("file type or size not allowed")
)
