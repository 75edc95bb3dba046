package contracts

// Event type names. These strings are the eventType discriminator on the wire
// and must never change for an existing event.
const (
	PasswordResetRequested = "PasswordResetRequestedEvent"
	UserRegistered         = "UserRegisteredEvent"
	FileUploaded           = "FileUploadedEvent"
	AvatarUploaded         = "AvatarUploadedEvent"
	TripCreated            = "TripCreatedEvent"
)

// File categories carried by FileUploadedEvent
const (
	CategoryAvatar = "avatar"
	CategoryTrip   = "trip"
	CategoryCard   = "card"
)

// PasswordResetRequestedData is the eventData of PasswordResetRequestedEvent
type PasswordResetRequestedData struct {
	Email      string `json:"email"`
	Token      string `json:"token"`
	UserName   string `json:"userName,omitempty"`
	OccurredOn string `json:"occurredOn"`
}

// PasswordResetRequestedEvent is raised when a user asks for a reset link
type PasswordResetRequestedEvent struct {
	baseEvent
	Email    Email
	Token    string
	UserName string
}

// NewPasswordResetRequestedEvent creates the event stamped with the current time
func NewPasswordResetRequestedEvent(email Email, token, userName string) *PasswordResetRequestedEvent {
	return &PasswordResetRequestedEvent{
		baseEvent: newBaseEvent(),
		Email:     email,
		Token:     token,
		UserName:  userName,
	}
}

// EventName returns PasswordResetRequested
func (e *PasswordResetRequestedEvent) EventName() string { return PasswordResetRequested }

// WireShape returns the eventData payload, or nil for a nil event
func (e *PasswordResetRequestedEvent) WireShape() any {
	if e == nil {
		return nil
	}
	return PasswordResetRequestedData{
		Email:      e.Email.Value(),
		Token:      e.Token,
		UserName:   e.UserName,
		OccurredOn: FormatOccurredOn(e.occurredOn),
	}
}

// UserRegisteredData is the eventData of UserRegisteredEvent
type UserRegisteredData struct {
	UserID     *int64 `json:"userId,omitempty"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	OccurredOn string `json:"occurredOn"`
}

// UserRegisteredEvent is raised after a new account is created
type UserRegisteredEvent struct {
	baseEvent
	UserID UserID
	Email  Email
	Name   string
}

// NewUserRegisteredEvent creates the event stamped with the current time.
// A zero UserID is omitted from the payload.
func NewUserRegisteredEvent(userID UserID, email Email, name string) *UserRegisteredEvent {
	return &UserRegisteredEvent{
		baseEvent: newBaseEvent(),
		UserID:    userID,
		Email:     email,
		Name:      name,
	}
}

// EventName returns UserRegistered
func (e *UserRegisteredEvent) EventName() string { return UserRegistered }

// WireShape returns the eventData payload, or nil for a nil event
func (e *UserRegisteredEvent) WireShape() any {
	if e == nil {
		return nil
	}
	data := UserRegisteredData{
		Email:      e.Email.Value(),
		Name:       e.Name,
		OccurredOn: FormatOccurredOn(e.occurredOn),
	}
	if !e.UserID.IsZero() {
		id := e.UserID.Value()
		data.UserID = &id
	}
	return data
}

// FileUploadedData is the eventData of FileUploadedEvent
type FileUploadedData struct {
	FileKey    string `json:"fileKey"`
	FileURL    string `json:"fileUrl"`
	Category   string `json:"category"`
	EntityID   string `json:"entityId,omitempty"`
	OccurredOn string `json:"occurredOn"`
}

// FileUploadedEvent is raised once an uploaded file is stored
type FileUploadedEvent struct {
	baseEvent
	FileKey  string
	FileURL  string
	Category string
	EntityID string
}

// NewFileUploadedEvent creates the event stamped with the current time
func NewFileUploadedEvent(fileKey, fileURL, category, entityID string) *FileUploadedEvent {
	return &FileUploadedEvent{
		baseEvent: newBaseEvent(),
		FileKey:   fileKey,
		FileURL:   fileURL,
		Category:  category,
		EntityID:  entityID,
	}
}

// EventName returns FileUploaded
func (e *FileUploadedEvent) EventName() string { return FileUploaded }

// WireShape returns the eventData payload, or nil for a nil event
func (e *FileUploadedEvent) WireShape() any {
	if e == nil {
		return nil
	}
	return FileUploadedData{
		FileKey:    e.FileKey,
		FileURL:    e.FileURL,
		Category:   e.Category,
		EntityID:   e.EntityID,
		OccurredOn: FormatOccurredOn(e.occurredOn),
	}
}

// AvatarUploadedData is the eventData of AvatarUploadedEvent
type AvatarUploadedData struct {
	UserID     int64  `json:"userId"`
	FileKey    string `json:"fileKey"`
	FileURL    string `json:"fileUrl"`
	OccurredOn string `json:"occurredOn"`
}

// AvatarUploadedEvent is raised when a user replaces their avatar
type AvatarUploadedEvent struct {
	baseEvent
	UserID  UserID
	FileKey string
	FileURL string
}

// NewAvatarUploadedEvent creates the event stamped with the current time
func NewAvatarUploadedEvent(userID UserID, fileKey, fileURL string) *AvatarUploadedEvent {
	return &AvatarUploadedEvent{
		baseEvent: newBaseEvent(),
		UserID:    userID,
		FileKey:   fileKey,
		FileURL:   fileURL,
	}
}

// EventName returns AvatarUploaded
func (e *AvatarUploadedEvent) EventName() string { return AvatarUploaded }

// WireShape returns the eventData payload, or nil for a nil event
func (e *AvatarUploadedEvent) WireShape() any {
	if e == nil {
		return nil
	}
	return AvatarUploadedData{
		UserID:     e.UserID.Value(),
		FileKey:    e.FileKey,
		FileURL:    e.FileURL,
		OccurredOn: FormatOccurredOn(e.occurredOn),
	}
}

// TripCreatedData is the eventData of TripCreatedEvent
type TripCreatedData struct {
	TripID     int64  `json:"tripId"`
	Title      string `json:"title"`
	UserID     int64  `json:"userId"`
	OccurredOn string `json:"occurredOn"`
}

// TripCreatedEvent is raised after a trip is persisted
type TripCreatedEvent struct {
	baseEvent
	TripID int64
	Title  string
	UserID UserID
}

// NewTripCreatedEvent creates the event stamped with the current time
func NewTripCreatedEvent(tripID int64, title string, userID UserID) *TripCreatedEvent {
	return &TripCreatedEvent{
		baseEvent: newBaseEvent(),
		TripID:    tripID,
		Title:     title,
		UserID:    userID,
	}
}

// EventName returns TripCreated
func (e *TripCreatedEvent) EventName() string { return TripCreated }

// WireShape returns the eventData payload, or nil for a nil event
func (e *TripCreatedEvent) WireShape() any {
	if e == nil {
		return nil
	}
	return TripCreatedData{
		TripID:     e.TripID,
		Title:      e.Title,
		UserID:     e.UserID.Value(),
		OccurredOn: FormatOccurredOn(e.occurredOn),
	}
}
