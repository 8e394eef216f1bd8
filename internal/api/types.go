package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/auth"
	"github.com/hackgods/telehealth-scheduling/internal/messaging"
	"github.com/hackgods/telehealth-scheduling/internal/review"
	"github.com/hackgods/telehealth-scheduling/internal/slot"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type IntakeRequest struct {
	Reason             string  `json:"reason"`
	Symptoms           *string `json:"symptoms,omitempty"`
	MedicalHistory     *string `json:"medical_history,omitempty"`
	CurrentMedications *string `json:"current_medications,omitempty"`
	Allergies          *string `json:"allergies,omitempty"`
}

func (r IntakeRequest) intake() appointment.Intake {
	return appointment.Intake{
		Reason:             r.Reason,
		Symptoms:           r.Symptoms,
		MedicalHistory:     r.MedicalHistory,
		CurrentMedications: r.CurrentMedications,
		Allergies:          r.Allergies,
	}
}

type CreateAppointmentRequest struct {
	DoctorID string `json:"doctor_id"`
	SlotID   string `json:"slot_id"`
	IntakeRequest
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID     `json:"id"`
	PatientID          uuid.UUID     `json:"patient_id"`
	DoctorID           uuid.UUID     `json:"doctor_id"`
	SlotID             uuid.UUID     `json:"slot_id"`
	Status             string        `json:"status"`
	Intake             IntakeRequest `json:"intake"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID    `json:"cancelled_by,omitempty"`
	RoomID             string        `json:"room_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`

	Slot   *SlotResponse   `json:"slot,omitempty"`
	Doctor *DoctorResponse `json:"doctor,omitempty"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		SlotID:    a.SlotID,
		Status:    string(a.Status),
		Intake: IntakeRequest{
			Reason:             a.Intake.Reason,
			Symptoms:           a.Intake.Symptoms,
			MedicalHistory:     a.Intake.MedicalHistory,
			CurrentMedications: a.Intake.CurrentMedications,
			Allergies:          a.Intake.Allergies,
		},
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		RoomID:             a.RoomID,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toDetailResponse(d appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(d.Appointment)
	if d.Slot != nil {
		s := toSlotResponse(*d.Slot)
		resp.Slot = &s
	}
	if d.Doctor != nil {
		resp.Doctor = &DoctorResponse{ID: d.Doctor.ID, Name: d.Doctor.Name, Specialty: d.Doctor.Specialty}
	}
	return resp
}

type JoinResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	RoomID        string    `json:"room_id"`
}

const dateLayout = "2006-01-02"

type CreateSlotRequest struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Kind              string    `json:"kind"`
	Pattern           *string   `json:"pattern,omitempty"`
	RecurrenceDay     *int      `json:"recurrence_day,omitempty"`
	RecurrenceEndDate *string   `json:"recurrence_end_date,omitempty"`
}

type SlotResponse struct {
	ID                uuid.UUID `json:"id"`
	DoctorID          uuid.UUID `json:"doctor_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Kind              string    `json:"kind"`
	Available         bool      `json:"is_available"`
	Pattern           *string   `json:"pattern,omitempty"`
	RecurrenceDay     *int      `json:"recurrence_day,omitempty"`
	RecurrenceEndDate *string   `json:"recurrence_end_date,omitempty"`
}

func toSlotResponse(s slot.TimeSlot) SlotResponse {
	resp := SlotResponse{
		ID:            s.ID,
		DoctorID:      s.DoctorID,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Kind:          string(s.Kind),
		Available:     s.Available,
		RecurrenceDay: s.RecurrenceDay,
	}
	if s.Pattern != nil {
		p := string(*s.Pattern)
		resp.Pattern = &p
	}
	if s.RecurrenceEndDate != nil {
		d := s.RecurrenceEndDate.Format(dateLayout)
		resp.RecurrenceEndDate = &d
	}
	return resp
}

func toSlotResponses(in []slot.TimeSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(in))
	for _, s := range in {
		out = append(out, toSlotResponse(s))
	}
	return out
}

type GenerateResponse struct {
	Generated int            `json:"generated"`
	Slots     []SlotResponse `json:"slots"`
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	ID        uuid.UUID  `json:"id"`
	SenderID  *uuid.UUID `json:"sender_id,omitempty"`
	Kind      string     `json:"kind"`
	Content   string     `json:"content"`
	FileID    *uuid.UUID `json:"file_id,omitempty"`
	Read      bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toMessageResponse(m messaging.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Kind:      string(m.Kind),
		Content:   m.Content,
		FileID:    m.FileID,
		Read:      m.Read,
		ReadAt:    m.ReadAt,
		CreatedAt: m.CreatedAt,
	}
}

type AttachFileRequest struct {
	OriginalName string `json:"original_name"`
	StorageKey   string `json:"storage_key"`
	MimeType     string `json:"mime_type"`
	SizeBytes    int64  `json:"size_bytes"`
	Kind         string `json:"kind,omitempty"`
}

type FileResponse struct {
	ID           uuid.UUID `json:"id"`
	UploaderID   uuid.UUID `json:"uploader_id"`
	OriginalName string    `json:"original_name"`
	StorageKey   string    `json:"storage_key"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

func toFileResponse(f messaging.FileAttachment) FileResponse {
	return FileResponse{
		ID:           f.ID,
		UploaderID:   f.UploaderID,
		OriginalName: f.OriginalName,
		StorageKey:   f.StorageKey,
		MimeType:     f.MimeType,
		SizeBytes:    f.SizeBytes,
		Kind:         string(f.Kind),
		CreatedAt:    f.CreatedAt,
	}
}

type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

type CreateReviewRequest struct {
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	Anonymous bool   `json:"is_anonymous"`
}

type UpdateReviewRequest struct {
	Rating  *int    `json:"rating,omitempty"`
	Comment *string `json:"comment,omitempty"`
}

type ReviewResponse struct {
	ID            uuid.UUID  `json:"id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Rating        int        `json:"rating"`
	Comment       string     `json:"comment,omitempty"`
	Anonymous     bool       `json:"is_anonymous"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type DoctorReviewsResponse struct {
	DoctorID      uuid.UUID        `json:"doctor_id"`
	AverageRating float64          `json:"average_rating"`
	ReviewCount   int              `json:"review_count"`
	Reviews       []ReviewResponse `json:"reviews"`
}

// toReviewResponse hides who wrote an anonymous review from everyone but
// the author and admins.
func toReviewResponse(r review.Review, viewer auth.Actor) ReviewResponse {
	out := ReviewResponse{
		ID:        r.ID,
		DoctorID:  r.DoctorID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		Anonymous: r.Anonymous,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if !r.Anonymous || viewer.ID == r.PatientID || viewer.IsAdmin() {
		out.PatientID = &r.PatientID
		out.AppointmentID = &r.AppointmentID
	}
	return out
}

func toReviewResponses(rs []review.Review, viewer auth.Actor) []ReviewResponse {
	out := make([]ReviewResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toReviewResponse(r, viewer))
	}
	return out
}
