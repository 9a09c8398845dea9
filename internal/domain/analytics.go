package domain

import "time"

// SessionStatus mirrors the configurator session lifecycle.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionConverted SessionStatus = "converted"
	SessionSaved     SessionStatus = "saved"
	SessionAbandoned SessionStatus = "abandoned"
)

// ConversionType is how a session converted, when it did.
type ConversionType string

const (
	ConversionAddToCart    ConversionType = "add_to_cart"
	ConversionPurchase     ConversionType = "purchase"
	ConversionQuoteRequest ConversionType = "quote_request"
	ConversionSave         ConversionType = "save"
	ConversionShare        ConversionType = "share"
)

// Session is a raw configurator session, read-only input to aggregation.
type Session struct {
	ID              string
	SubjectID       string
	VisitorID       *string
	UserID          *string
	AnonymousID     *string
	Status          SessionStatus
	StartedAt       time.Time
	LastActivityAt  *time.Time
	ConversionType  *ConversionType
	ConversionValue *float64
	Selections      map[string]string // componentID -> optionID
}

// VisitorKey returns the identity used for unique-visitor counting: the
// first non-empty of visitor id, user id, anonymous id. Empty means the
// session carries no identity at all and is excluded from uniques.
func (s *Session) VisitorKey() string {
	for _, p := range []*string{s.VisitorID, s.UserID, s.AnonymousID} {
		if p != nil && *p != "" {
			return *p
		}
	}
	return ""
}

// Completed reports whether the session counts as completed for roll-ups.
func (s *Session) Completed() bool {
	switch s.Status {
	case SessionCompleted, SessionConverted, SessionSaved:
		return true
	}
	return false
}

// Interaction is one raw interaction event inside a session.
type Interaction struct {
	SessionID  string
	SubjectID  string
	Type       string
	OccurredAt time.Time
}

// DailyAggregate holds the pre-computed metrics for one subject and one
// UTC calendar day. Exactly one row exists per (SubjectID, Day); the
// aggregation worker overwrites every derived field on re-run.
type DailyAggregate struct {
	SubjectID                 string
	Day                       time.Time // UTC midnight
	Views                     int
	UniqueViews               int
	Sessions                  int
	CompletedSessions         int
	TotalInteractions         int
	InteractionsByType        map[string]int
	AddToCarts                int
	Purchases                 int
	QuoteRequests             int
	Saves                     int
	Shares                    int
	Revenue                   float64
	AvgSessionDurationSeconds int
	AvgOrderValue             float64
}

// OptionDailyAggregate is the per-option roll-up for one subject and day.
type OptionDailyAggregate struct {
	SubjectID   string
	Day         time.Time
	ComponentID string
	OptionID    string
	Selections  int
	AddToCarts  int
	Purchases   int
	Revenue     float64
}
